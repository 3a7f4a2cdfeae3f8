// Package workqueue implements the fleet-wide extraction work queue:
// domain-exclusive leases per worker plus per-domain pacing, so parallel
// workers never stampede one publisher.
package workqueue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonesrussell/newspipe/internal/config"
	"github.com/jonesrussell/newspipe/internal/domain"
	"github.com/jonesrussell/newspipe/internal/logger"
)

const reclaimSweepInterval = 60 * time.Second

// ClaimStore is the slice of the candidate repository the coordinator needs.
type ClaimStore interface {
	PendingHosts(ctx context.Context) ([]domain.HostCount, error)
	BatchClaimForExtraction(ctx context.Context, hosts []string, limit, maxPerDomain int) ([]*domain.CandidateLink, error)
}

// SourceStore resolves source rows for claimed items.
type SourceStore interface {
	GetByID(ctx context.Context, id string) (*domain.Source, error)
}

// WorkItem is one claimed candidate handed to a worker.
type WorkItem struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	Source        string `json:"source"`
	CanonicalName string `json:"canonical_name"`
}

// WorkResponse is the reply to a request_work call.
type WorkResponse struct {
	Items         []WorkItem `json:"items"`
	WorkerDomains []string   `json:"worker_domains"`
}

// Stats is an operator-visibility snapshot of coordinator state.
type Stats struct {
	TotalAvailable    int                 `json:"total_available"`
	TotalPaused       int                 `json:"total_paused"`
	DomainsAvailable  []string            `json:"domains_available"`
	DomainsPaused     []string            `json:"domains_paused"`
	WorkerAssignments map[string][]string `json:"worker_assignments"`
	DomainCooldowns   map[string]float64  `json:"domain_cooldowns"`
}

// workerState tracks one worker's lease and liveness.
type workerState struct {
	domains  map[string]struct{}
	lastSeen time.Time
}

// domainState tracks pacing and failure bookkeeping for one domain.
type domainState struct {
	leasedBy      string
	nextAllowedAt time.Time
	failureCount  int
	pausedUntil   time.Time
	pending       int
}

// Coordinator hands out domain leases and enforces the fleet-wide pacing
// invariant. All state lives in process memory under one mutex; a restart
// loses leases, which costs at most one worker-timeout of churn.
type Coordinator struct {
	store   ClaimStore
	sources SourceStore
	log     logger.Interface

	cooldown      time.Duration
	pause         time.Duration
	workerTimeout time.Duration
	maxFailures   int
	minDomains    int
	maxDomains    int

	mu      sync.Mutex
	workers map[string]*workerState
	domains map[string]*domainState
	now     func() time.Time

	sourceCache map[string]*domain.Source
}

// NewCoordinator creates a coordinator from the pipeline configuration.
func NewCoordinator(cfg *config.Config, store ClaimStore, sources SourceStore, log logger.Interface) *Coordinator {
	return &Coordinator{
		store:         store,
		sources:       sources,
		log:           log,
		cooldown:      cfg.DomainCooldown(),
		pause:         cfg.DomainPause(),
		workerTimeout: cfg.WorkerTimeout(),
		maxFailures:   cfg.MaxDomainFailures,
		minDomains:    cfg.MinDomainsPerWorker,
		maxDomains:    cfg.MaxDomainsPerWorker,
		workers:       make(map[string]*workerState),
		domains:       make(map[string]*domainState),
		now:           time.Now,
		sourceCache:   make(map[string]*domain.Source),
	}
}

// RequestWork assigns (or refreshes) the worker's domain lease, claims
// candidates from domains whose cooldown has elapsed, and stamps those
// domains' pacing clocks. An empty item list is a valid response meaning
// "sleep and retry".
func (c *Coordinator) RequestWork(
	ctx context.Context,
	workerID string,
	batchSize, maxPerDomain int,
) (*WorkResponse, error) {
	pending, err := c.store.PendingHosts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending hosts: %w", err)
	}

	c.mu.Lock()
	now := c.now()
	c.refreshPendingLocked(pending)
	c.reclaimStaleLocked(now)

	worker := c.touchWorkerLocked(workerID, now)
	c.expirePausedLeasesLocked(worker, now)
	c.assignDomainsLocked(workerID, worker, now)

	eligible := c.eligibleDomainsLocked(worker, now)
	leased := sortedDomains(worker)
	c.mu.Unlock()

	if len(eligible) == 0 {
		return &WorkResponse{Items: []WorkItem{}, WorkerDomains: leased}, nil
	}

	claimed, err := c.store.BatchClaimForExtraction(ctx, eligible, batchSize, maxPerDomain)
	if err != nil {
		return nil, fmt.Errorf("batch claim: %w", err)
	}

	c.mu.Lock()
	// Only domains that actually got a request move their pacing clock.
	stamped := make(map[string]struct{})
	for _, link := range claimed {
		stamped[link.Host] = struct{}{}
	}
	for host := range stamped {
		if state, ok := c.domains[host]; ok {
			state.nextAllowedAt = c.now().Add(c.cooldown)
		}
	}
	c.mu.Unlock()

	items := make([]WorkItem, 0, len(claimed))
	for _, link := range claimed {
		item := WorkItem{ID: link.ID, URL: link.URL, Source: link.Host}
		if source := c.lookupSource(ctx, link.SourceID); source != nil {
			item.CanonicalName = source.CanonicalName
		}
		items = append(items, item)
	}

	c.log.Debug("work served",
		"worker_id", workerID,
		"items", len(items),
		"leased_domains", len(leased),
	)

	return &WorkResponse{Items: items, WorkerDomains: leased}, nil
}

// ReportFailure applies the failure ladder to a domain: the first failure
// extends its cooldown to 60 s, the second to 120 s, and the third pauses
// the domain for the full pause window and zeroes the counter.
func (c *Coordinator) ReportFailure(workerID, host string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	state, ok := c.domains[host]
	if !ok {
		state = &domainState{}
		c.domains[host] = state
	}

	state.failureCount++
	if state.failureCount >= c.maxFailures {
		state.pausedUntil = now.Add(c.pause)
		state.failureCount = 0
		c.releaseDomainLocked(host, state)
		c.log.Warn("domain paused after repeated failures",
			"domain", host,
			"worker_id", workerID,
			"paused_until", state.pausedUntil,
		)
		return
	}

	backoff := time.Duration(state.failureCount) * c.cooldown
	state.nextAllowedAt = now.Add(backoff)
	c.log.Info("domain failure reported",
		"domain", host,
		"worker_id", workerID,
		"failure_count", state.failureCount,
		"backoff_seconds", backoff.Seconds(),
	)
}

// Stats returns a point-in-time snapshot of leases, cooldowns, and pauses.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	stats := Stats{
		DomainsAvailable:  []string{},
		DomainsPaused:     []string{},
		WorkerAssignments: make(map[string][]string),
		DomainCooldowns:   make(map[string]float64),
	}

	for host, state := range c.domains {
		stats.TotalAvailable += state.pending

		if state.pausedUntil.After(now) {
			stats.TotalPaused++
			stats.DomainsPaused = append(stats.DomainsPaused, host)
			continue
		}
		if state.leasedBy == "" && state.pending > 0 {
			stats.DomainsAvailable = append(stats.DomainsAvailable, host)
		}
		if remaining := state.nextAllowedAt.Sub(now); remaining > 0 {
			stats.DomainCooldowns[host] = remaining.Seconds()
		}
	}
	sort.Strings(stats.DomainsAvailable)
	sort.Strings(stats.DomainsPaused)

	for id, worker := range c.workers {
		stats.WorkerAssignments[id] = sortedDomains(worker)
	}

	return stats
}

// Run starts the background reclamation sweep and blocks until the context
// is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(reclaimSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			c.reclaimStaleLocked(c.now())
			c.mu.Unlock()
		}
	}
}

// refreshPendingLocked folds the latest pending-host counts into domain
// state, creating entries for domains the coordinator has not seen yet.
func (c *Coordinator) refreshPendingLocked(pending []domain.HostCount) {
	seen := make(map[string]struct{}, len(pending))
	for _, hc := range pending {
		seen[hc.Host] = struct{}{}
		state, ok := c.domains[hc.Host]
		if !ok {
			state = &domainState{}
			c.domains[hc.Host] = state
		}
		state.pending = hc.Count
	}

	for host, state := range c.domains {
		if _, ok := seen[host]; !ok {
			state.pending = 0
		}
	}
}

// reclaimStaleLocked releases the leases of workers inactive beyond the
// worker timeout.
func (c *Coordinator) reclaimStaleLocked(now time.Time) {
	for id, worker := range c.workers {
		if now.Sub(worker.lastSeen) <= c.workerTimeout {
			continue
		}

		for host := range worker.domains {
			if state, ok := c.domains[host]; ok && state.leasedBy == id {
				state.leasedBy = ""
			}
		}
		delete(c.workers, id)
		c.log.Info("reclaimed stale worker lease", "worker_id", id)
	}
}

func (c *Coordinator) touchWorkerLocked(workerID string, now time.Time) *workerState {
	worker, ok := c.workers[workerID]
	if !ok {
		worker = &workerState{domains: make(map[string]struct{})}
		c.workers[workerID] = worker
	}
	worker.lastSeen = now

	return worker
}

// expirePausedLeasesLocked silently drops paused and drained domains from a
// worker's lease. Releasing drained domains lets leases rotate so every
// domain with pending work is eventually assigned.
func (c *Coordinator) expirePausedLeasesLocked(worker *workerState, now time.Time) {
	for host := range worker.domains {
		state, ok := c.domains[host]
		if !ok {
			delete(worker.domains, host)
			continue
		}
		if state.pausedUntil.After(now) || state.pending == 0 {
			state.leasedBy = ""
			delete(worker.domains, host)
		}
	}
}

// assignDomainsLocked grows a worker's lease from the free pool in
// lexicographic order. A fresh lease gets the floor, an existing lease tops
// up one domain per request toward the ceiling, so late-arriving workers
// are not starved by the first requester.
func (c *Coordinator) assignDomainsLocked(workerID string, worker *workerState, now time.Time) {
	target := c.minDomains
	if len(worker.domains) > 0 {
		target = len(worker.domains) + 1
	}
	if target > c.maxDomains {
		target = c.maxDomains
	}
	if len(worker.domains) >= target {
		return
	}

	free := make([]string, 0)
	for host, state := range c.domains {
		if state.leasedBy != "" || state.pending == 0 || state.pausedUntil.After(now) {
			continue
		}
		if _, held := worker.domains[host]; held {
			continue
		}
		free = append(free, host)
	}
	sort.Strings(free)

	for _, host := range free {
		if len(worker.domains) >= target {
			break
		}
		c.domains[host].leasedBy = workerID
		worker.domains[host] = struct{}{}
	}
}

// eligibleDomainsLocked returns the worker's leased domains whose cooldown
// has elapsed.
func (c *Coordinator) eligibleDomainsLocked(worker *workerState, now time.Time) []string {
	eligible := make([]string, 0, len(worker.domains))
	for host := range worker.domains {
		state, ok := c.domains[host]
		if !ok {
			continue
		}
		if state.nextAllowedAt.After(now) || state.pausedUntil.After(now) {
			continue
		}
		eligible = append(eligible, host)
	}
	sort.Strings(eligible)

	return eligible
}

func (c *Coordinator) releaseDomainLocked(host string, state *domainState) {
	if state.leasedBy == "" {
		return
	}
	if worker, ok := c.workers[state.leasedBy]; ok {
		delete(worker.domains, host)
	}
	state.leasedBy = ""
}

// sourceCacheLimit bounds the source cache; on overflow it resets wholesale
// instead of tracking per-entry age.
const sourceCacheLimit = 1024

func (c *Coordinator) lookupSource(ctx context.Context, sourceID string) *domain.Source {
	c.mu.Lock()
	if cached, ok := c.sourceCache[sourceID]; ok {
		c.mu.Unlock()
		return cached
	}
	c.mu.Unlock()

	source, err := c.sources.GetByID(ctx, sourceID)
	if err != nil {
		c.log.Debug("source lookup failed", "source_id", sourceID, "error", err.Error())
		return nil
	}

	c.mu.Lock()
	if len(c.sourceCache) >= sourceCacheLimit {
		c.sourceCache = make(map[string]*domain.Source, sourceCacheLimit)
	}
	c.sourceCache[sourceID] = source
	c.mu.Unlock()

	return source
}

func sortedDomains(worker *workerState) []string {
	domains := make([]string, 0, len(worker.domains))
	for host := range worker.domains {
		domains = append(domains, host)
	}
	sort.Strings(domains)

	return domains
}
