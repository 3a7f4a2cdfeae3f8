// Package verify probes discovered candidate links and decides whether each
// one points at an article.
package verify

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/jonesrussell/newspipe/internal/domain"
	"github.com/jonesrussell/newspipe/internal/logger"
)

const (
	// MaxAttempts bounds retries for retryable probe failures.
	MaxAttempts = 3

	// DefaultFetchTimeout is the per-probe deadline.
	DefaultFetchTimeout = 30 * time.Second

	// backoffJitterFraction widens each backoff step by up to a quarter in
	// either direction so retries from parallel verifiers spread out.
	backoffJitterFraction = 0.25
)

// backoffSchedule holds the base delay before retry N.
var backoffSchedule = []time.Duration{time.Second, 4 * time.Second, 16 * time.Second}

// CandidateStore is the slice of the candidate repository the verifier needs.
type CandidateStore interface {
	ListByStatus(ctx context.Context, status string, limit int) ([]*domain.CandidateLink, error)
	PromoteStatus(ctx context.Context, id, from, to string) (bool, error)
	RecordVerifyError(ctx context.Context, id, lastError string) error
}

// TelemetryStore records observed HTTP responses.
type TelemetryStore interface {
	RecordHTTPStatus(ctx context.Context, record domain.HTTPStatusRecord) error
}

// Classifier judges whether a URL's shape looks like an article page.
type Classifier interface {
	IsArticle(rawURL, host string) bool
}

// Verdict is the verifier's decision for one candidate.
type Verdict string

const (
	VerdictArticle    Verdict = "article"
	VerdictNotArticle Verdict = "not_article"
	VerdictFailed     Verdict = "verify_failed"
)

// Verifier probes candidate links with HEAD requests, falling back to GET
// where servers reject HEAD, and promotes each candidate to article,
// not_article, or verify_failed.
type Verifier struct {
	candidates CandidateStore
	telemetry  TelemetryStore
	classifier Classifier
	client     *http.Client
	log        logger.Interface

	fetchTimeout time.Duration
	sleep        func(context.Context, time.Duration) error
	rng          *rand.Rand
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithFetchTimeout overrides the per-probe deadline.
func WithFetchTimeout(d time.Duration) Option {
	return func(v *Verifier) { v.fetchTimeout = d }
}

// WithHTTPClient overrides the probe client.
func WithHTTPClient(client *http.Client) Option {
	return func(v *Verifier) { v.client = client }
}

// withSleep replaces the inter-retry sleep, for tests.
func withSleep(fn func(context.Context, time.Duration) error) Option {
	return func(v *Verifier) { v.sleep = fn }
}

// New creates a verifier.
func New(
	candidates CandidateStore,
	telemetry TelemetryStore,
	classifier Classifier,
	log logger.Interface,
	opts ...Option,
) *Verifier {
	v := &Verifier{
		candidates:   candidates,
		telemetry:    telemetry,
		classifier:   classifier,
		client:       &http.Client{},
		log:          log,
		fetchTimeout: DefaultFetchTimeout,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	v.sleep = func(ctx context.Context, d time.Duration) error {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}
	}

	for _, opt := range opts {
		opt(v)
	}

	return v
}

// RunBatch lists up to limit candidates in discovered status and verifies
// each one. Candidates are independent; a failure on one never aborts the
// batch.
func (v *Verifier) RunBatch(ctx context.Context, limit int) (int, error) {
	links, err := v.candidates.ListByStatus(ctx, domain.CandidateStatusDiscovered, limit)
	if err != nil {
		return 0, fmt.Errorf("list discovered candidates: %w", err)
	}

	verified := 0
	for _, link := range links {
		select {
		case <-ctx.Done():
			return verified, ctx.Err()
		default:
		}

		verdict := v.VerifyOne(ctx, link)
		if verdict == VerdictArticle {
			verified++
		}
	}

	return verified, nil
}

// VerifyOne probes a single candidate and promotes it according to the
// verdict.
func (v *Verifier) VerifyOne(ctx context.Context, link *domain.CandidateLink) Verdict {
	verdict, lastErr := v.probeWithRetry(ctx, link)

	switch verdict {
	case VerdictArticle:
		v.promote(ctx, link, domain.CandidateStatusArticle)
	case VerdictNotArticle:
		v.promote(ctx, link, domain.CandidateStatusNotArticle)
	case VerdictFailed:
		if lastErr != "" {
			if err := v.candidates.RecordVerifyError(ctx, link.ID, lastErr); err != nil {
				v.log.Error("record verify error failed", "candidate_id", link.ID, "error", err.Error())
			}
		}
		v.promote(ctx, link, domain.CandidateStatusVerifyFailed)
	}

	return verdict
}

func (v *Verifier) promote(ctx context.Context, link *domain.CandidateLink, to string) {
	updated, err := v.candidates.PromoteStatus(ctx, link.ID, domain.CandidateStatusDiscovered, to)
	if err != nil {
		v.log.Error("candidate promotion failed",
			"candidate_id", link.ID,
			"to", to,
			"error", err.Error(),
		)
		return
	}
	if !updated {
		// Someone else moved the candidate since we listed it. Their
		// verdict stands.
		v.log.Debug("candidate already promoted", "candidate_id", link.ID, "to", to)
	}
}

// probeWithRetry applies the retry policy: retryable failures back off
// 1s/4s/16s with jitter, up to MaxAttempts total attempts.
func (v *Verifier) probeWithRetry(ctx context.Context, link *domain.CandidateLink) (Verdict, string) {
	var lastErr string

	for attempt := 0; attempt < MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := v.sleep(ctx, v.jitteredBackoff(attempt-1)); err != nil {
				return VerdictFailed, lastErr
			}
		}

		verdict, retryable, probeErr := v.probe(ctx, link)
		if probeErr != nil {
			lastErr = probeErr.Error()
		}
		if !retryable {
			return verdict, lastErr
		}
	}

	return VerdictFailed, lastErr
}

func (v *Verifier) jitteredBackoff(step int) time.Duration {
	if step >= len(backoffSchedule) {
		step = len(backoffSchedule) - 1
	}
	base := backoffSchedule[step]
	jitter := (v.rng.Float64()*2 - 1) * backoffJitterFraction

	return time.Duration(float64(base) * (1 + jitter))
}

// probe makes one HEAD probe, falling back to GET when the server rejects
// HEAD with 403 or 405. Returns the verdict, whether another attempt may
// help, and the probe error if any.
func (v *Verifier) probe(ctx context.Context, link *domain.CandidateLink) (Verdict, bool, error) {
	statusCode, method, elapsed, err := v.fetch(ctx, link.URL, http.MethodHead)
	if err == nil && (statusCode == http.StatusForbidden || statusCode == http.StatusMethodNotAllowed) {
		statusCode, method, elapsed, err = v.fetch(ctx, link.URL, http.MethodGet)
	}

	if err != nil {
		// Network failures still leave a telemetry row; a zero status code
		// marks probes that never got a response.
		v.recordProbe(ctx, link, 0, method, elapsed)

		var netErr net.Error
		if (errors.As(err, &netErr) && netErr.Timeout()) || errors.Is(err, context.DeadlineExceeded) {
			return VerdictFailed, true, fmt.Errorf("probe timeout: %w", err)
		}

		return VerdictFailed, true, fmt.Errorf("probe: %w", err)
	}

	v.recordProbe(ctx, link, statusCode, method, elapsed)

	switch {
	case statusCode >= 200 && statusCode < 300:
		if v.classifier.IsArticle(link.URL, link.Host) {
			return VerdictArticle, false, nil
		}

		return VerdictNotArticle, false, nil
	case statusCode == http.StatusNotFound || statusCode == http.StatusGone:
		return VerdictNotArticle, false, nil
	default:
		return VerdictFailed, true, fmt.Errorf("probe status %d", statusCode)
	}
}

func (v *Verifier) fetch(
	ctx context.Context,
	url, method string,
) (statusCode int, usedMethod string, elapsed time.Duration, err error) {
	fetchCtx, cancel := context.WithTimeout(ctx, v.fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, method, url, http.NoBody)
	if err != nil {
		return 0, method, 0, fmt.Errorf("build request: %w", err)
	}

	started := time.Now()
	resp, err := v.client.Do(req)
	elapsed = time.Since(started)
	if err != nil {
		return 0, method, elapsed, err
	}
	defer func() { _ = resp.Body.Close() }()

	return resp.StatusCode, method, elapsed, nil
}

func (v *Verifier) recordProbe(
	ctx context.Context,
	link *domain.CandidateLink,
	statusCode int,
	method string,
	elapsed time.Duration,
) {
	record := domain.HTTPStatusRecord{
		SourceID:   link.SourceID,
		URL:        link.URL,
		StatusCode: statusCode,
		Method:     method,
		ResponseMs: elapsed.Milliseconds(),
	}
	if err := v.telemetry.RecordHTTPStatus(ctx, record); err != nil {
		v.log.Error("record http status failed", "candidate_id", link.ID, "error", err.Error())
	}
}
