package workqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/jonesrussell/newspipe/internal/logger"
)

const clientRequestTimeout = 30 * time.Second

// WorkSource is what the extraction worker needs from the work queue. Both
// the coordinator client and the uncoordinated fallback satisfy it.
type WorkSource interface {
	RequestWork(ctx context.Context, workerID string, batchSize, maxPerDomain int) (*WorkResponse, error)
	ReportFailure(ctx context.Context, workerID, host string) error
}

// Client talks to the coordinator over HTTP.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a coordinator client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: clientRequestTimeout},
	}
}

// RequestWork asks the coordinator for a batch of claimed items.
func (c *Client) RequestWork(
	ctx context.Context,
	workerID string,
	batchSize, maxPerDomain int,
) (*WorkResponse, error) {
	body := map[string]any{
		"worker_id":               workerID,
		"batch_size":              batchSize,
		"max_articles_per_domain": maxPerDomain,
	}

	var resp WorkResponse
	if err := c.post(ctx, "/work/request", body, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

// ReportFailure reports a domain-level failure signal to the coordinator.
func (c *Client) ReportFailure(ctx context.Context, workerID, host string) error {
	body := map[string]any{"worker_id": workerID, "domain": host}

	var resp struct {
		Status string `json:"status"`
	}
	if err := c.post(ctx, "/work/report-failure", body, &resp); err != nil {
		return err
	}
	if resp.Status != "success" {
		return fmt.Errorf("report failure: coordinator returned status %q", resp.Status)
	}

	return nil
}

// Stats fetches the coordinator's state snapshot.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/stats", http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build stats request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch stats: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch stats: status %d", resp.StatusCode)
	}

	var stats Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, fmt.Errorf("decode stats: %w", err)
	}

	return &stats, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("post %s: status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}

	return nil
}

// FallbackSource wraps the coordinator client with a direct-claim fallback.
// When the coordinator is unreachable, workers claim straight from the
// store with no cross-worker coordination. Strictly worse pacing, never
// wrong: row locks in the claim still prevent double processing.
type FallbackSource struct {
	primary WorkSource
	store   ClaimStore
	log     logger.Interface

	fallbackCount atomic.Int64
}

// NewFallbackSource wraps a coordinator client with direct-claim degradation.
func NewFallbackSource(primary WorkSource, store ClaimStore, log logger.Interface) *FallbackSource {
	return &FallbackSource{primary: primary, store: store, log: log}
}

// RequestWork tries the coordinator first, then degrades to an
// uncoordinated claim across all pending hosts.
func (f *FallbackSource) RequestWork(
	ctx context.Context,
	workerID string,
	batchSize, maxPerDomain int,
) (*WorkResponse, error) {
	resp, err := f.primary.RequestWork(ctx, workerID, batchSize, maxPerDomain)
	if err == nil {
		return resp, nil
	}

	f.fallbackCount.Add(1)
	f.log.Warn("coordinator unreachable, degrading to uncoordinated claims",
		"worker_id", workerID,
		"fallback_count", f.fallbackCount.Load(),
		"error", err.Error(),
	)

	pending, err := f.store.PendingHosts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending hosts: %w", err)
	}

	hosts := make([]string, 0, len(pending))
	for _, hc := range pending {
		hosts = append(hosts, hc.Host)
	}
	if len(hosts) == 0 {
		return &WorkResponse{Items: []WorkItem{}, WorkerDomains: []string{}}, nil
	}

	claimed, err := f.store.BatchClaimForExtraction(ctx, hosts, batchSize, maxPerDomain)
	if err != nil {
		return nil, fmt.Errorf("uncoordinated claim: %w", err)
	}

	items := make([]WorkItem, 0, len(claimed))
	seen := make(map[string]struct{})
	domains := make([]string, 0)
	for _, link := range claimed {
		items = append(items, WorkItem{ID: link.ID, URL: link.URL, Source: link.Host})
		if _, ok := seen[link.Host]; !ok {
			seen[link.Host] = struct{}{}
			domains = append(domains, link.Host)
		}
	}

	return &WorkResponse{Items: items, WorkerDomains: domains}, nil
}

// ReportFailure forwards to the coordinator; in degraded mode the report is
// logged and dropped.
func (f *FallbackSource) ReportFailure(ctx context.Context, workerID, host string) error {
	if err := f.primary.ReportFailure(ctx, workerID, host); err != nil {
		f.log.Warn("failure report dropped, coordinator unreachable",
			"worker_id", workerID,
			"domain", host,
			"error", err.Error(),
		)
	}

	return nil
}

// FallbackCount reports how many times the degraded path was taken.
func (f *FallbackSource) FallbackCount() int64 {
	return f.fallbackCount.Load()
}

var (
	_ WorkSource = (*Client)(nil)
	_ WorkSource = (*FallbackSource)(nil)
)

// coordinatorAsSource adapts the in-process coordinator to WorkSource so a
// single binary can run worker and coordinator together.
type coordinatorAsSource struct {
	coordinator *Coordinator
}

// NewLocalSource exposes an in-process coordinator as a WorkSource.
func NewLocalSource(coordinator *Coordinator) WorkSource {
	return &coordinatorAsSource{coordinator: coordinator}
}

func (l *coordinatorAsSource) RequestWork(
	ctx context.Context,
	workerID string,
	batchSize, maxPerDomain int,
) (*WorkResponse, error) {
	return l.coordinator.RequestWork(ctx, workerID, batchSize, maxPerDomain)
}

func (l *coordinatorAsSource) ReportFailure(_ context.Context, workerID, host string) error {
	l.coordinator.ReportFailure(workerID, host)
	return nil
}
