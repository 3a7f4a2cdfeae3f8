// Package worker runs the extraction loop: request claimed candidates from
// the work queue, extract each one, persist articles, and pace requests so
// publishers never see bursts.
package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jonesrussell/newspipe/internal/config"
	"github.com/jonesrussell/newspipe/internal/database"
	"github.com/jonesrussell/newspipe/internal/domain"
	"github.com/jonesrussell/newspipe/internal/extract"
	"github.com/jonesrussell/newspipe/internal/logger"
	"github.com/jonesrussell/newspipe/internal/workqueue"
)

// SilentCommitMarker tags log lines where an insert reported success but
// the row was absent on read-back. Grep for it when auditing driver
// behavior.
const SilentCommitMarker = "SILENT_COMMIT_FAILURE"

const (
	singleDomainMinBatchSleep = 300 * time.Second
	singleDomainMinInterMin   = 90 * time.Second
	singleDomainMinInterMax   = 180 * time.Second
	captchaBackoffCap         = config.DefaultCaptchaBackoffCap * time.Second
)

// ArticleStore is the slice of the article repository the worker needs.
type ArticleStore interface {
	InsertIfAbsent(ctx context.Context, params database.InsertParams) (id string, inserted bool, err error)
	GetByID(ctx context.Context, id string) (*domain.Article, error)
	GetByURL(ctx context.Context, url string) (*domain.Article, error)
}

// CandidateStore advances and releases claimed candidates.
type CandidateStore interface {
	PromoteStatus(ctx context.Context, id, from, to string) (bool, error)
	PendingHosts(ctx context.Context) ([]domain.HostCount, error)
}

// ExtractorChain runs extraction methods in order for one URL.
type ExtractorChain interface {
	Extract(ctx context.Context, url string) (result *extract.Result, method string, err error)
}

// Indexer mirrors extracted articles into a search index. Optional.
type Indexer interface {
	IndexArticle(ctx context.Context, article *domain.Article) error
}

// Pacing holds the worker's sleep and jitter parameters.
type Pacing struct {
	BatchSleep      time.Duration
	InterRequestMin time.Duration
	InterRequestMax time.Duration
}

// PacingFromConfig builds the default multi-domain pacing.
func PacingFromConfig(cfg *config.Config) Pacing {
	return Pacing{
		BatchSleep:      time.Duration(cfg.BatchSleepSeconds) * time.Second,
		InterRequestMin: time.Duration(cfg.InterRequestMinSeconds) * time.Second,
		InterRequestMax: time.Duration(cfg.InterRequestMaxSeconds) * time.Second,
	}
}

// clampSingleDomain raises pacing floors for single-domain candidate pools.
// Returns whether any value was clamped.
func (p *Pacing) clampSingleDomain() bool {
	clamped := false
	if p.BatchSleep < singleDomainMinBatchSleep {
		p.BatchSleep = singleDomainMinBatchSleep
		clamped = true
	}
	if p.InterRequestMin < singleDomainMinInterMin {
		p.InterRequestMin = singleDomainMinInterMin
		clamped = true
	}
	if p.InterRequestMax < singleDomainMinInterMax {
		p.InterRequestMax = singleDomainMinInterMax
		clamped = true
	}

	return clamped
}

// captchaState tracks one domain's local CAPTCHA backoff.
type captchaState struct {
	until   time.Time
	current time.Duration
}

// Worker is one extraction worker.
type Worker struct {
	id         string
	source     workqueue.WorkSource
	chain      ExtractorChain
	articles   ArticleStore
	candidates CandidateStore
	indexer    Indexer
	log        logger.Interface

	pacing       Pacing
	batchSize    int
	maxPerDomain int
	captchaBase  time.Duration

	captcha map[string]*captchaState
	rng     *rand.Rand
	now     func() time.Time
	sleep   func(context.Context, time.Duration) error
}

// Option configures a Worker.
type Option func(*Worker)

// WithIndexer mirrors extracted articles into a search index.
func WithIndexer(indexer Indexer) Option {
	return func(w *Worker) { w.indexer = indexer }
}

// New creates a worker.
func New(
	id string,
	cfg *config.Config,
	source workqueue.WorkSource,
	chain ExtractorChain,
	articles ArticleStore,
	candidates CandidateStore,
	log logger.Interface,
	opts ...Option,
) *Worker {
	w := &Worker{
		id:           id,
		source:       source,
		chain:        chain,
		articles:     articles,
		candidates:   candidates,
		log:          log.With("worker_id", id),
		pacing:       PacingFromConfig(cfg),
		batchSize:    cfg.BatchSize,
		maxPerDomain: cfg.MaxPerDomain,
		captchaBase:  cfg.CaptchaBackoff(),
		captcha:      make(map[string]*captchaState),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		now:          time.Now,
	}
	w.sleep = func(ctx context.Context, d time.Duration) error {
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
		opt(w)
	}

	return w
}

// Run drives the request/extract/sleep loop until the context is cancelled.
// In-flight items drain before returning.
func (w *Worker) Run(ctx context.Context) error {
	w.applySingleDomainClamp(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		resp, err := w.source.RequestWork(ctx, w.id, w.batchSize, w.maxPerDomain)
		if err != nil {
			w.log.Error("request work failed", "error", err.Error())
			if sleepErr := w.sleep(ctx, w.pacing.BatchSleep); sleepErr != nil {
				return sleepErr
			}
			continue
		}

		if len(resp.Items) > 0 {
			w.processBatch(ctx, resp.Items)
		}

		if err := w.sleep(ctx, w.pacing.BatchSleep); err != nil {
			return err
		}
	}
}

// applySingleDomainClamp enumerates distinct domains in the candidate pool
// and raises the pacing floors when there is exactly one.
func (w *Worker) applySingleDomainClamp(ctx context.Context) {
	hosts, err := w.candidates.PendingHosts(ctx)
	if err != nil {
		w.log.Warn("single-domain detection failed", "error", err.Error())
		return
	}
	if len(hosts) != 1 {
		return
	}

	before := w.pacing
	if w.pacing.clampSingleDomain() {
		w.log.Warn("single-domain candidate pool, clamping pacing",
			"domain", hosts[0].Host,
			"batch_sleep_before", before.BatchSleep.String(),
			"batch_sleep", w.pacing.BatchSleep.String(),
			"inter_request_min_before", before.InterRequestMin.String(),
			"inter_request_min", w.pacing.InterRequestMin.String(),
		)
	}
}

// processBatch works through a claimed batch, serializing items that share
// a domain and aborting a domain's remainder on bot-protection signals.
func (w *Worker) processBatch(ctx context.Context, items []workqueue.WorkItem) {
	byDomain := groupByDomain(items)

	first := true
	for _, group := range byDomain {
		host := group[0].Source
		if w.captchaActive(host) {
			w.log.Info("domain in captcha backoff, releasing items", "domain", host)
			w.releaseItems(ctx, group)
			continue
		}

		for i, item := range group {
			if !first {
				if err := w.sleep(ctx, w.interRequestDelay()); err != nil {
					w.releaseItems(ctx, group[i:])
					return
				}
			}
			first = false

			err := w.processItem(ctx, item)
			if err == nil {
				continue
			}

			if errors.Is(err, extract.ErrBotProtection) {
				// The failing item's claim was already released.
				w.handleBotProtection(ctx, host, group[i+1:])
				break
			}

			// Per-item failure; the batch continues.
			w.log.Warn("item extraction failed",
				"candidate_id", item.ID,
				"url", item.URL,
				"error", err.Error(),
			)
		}
	}
}

// processItem extracts one candidate and persists the article. Every exit
// path either promotes the candidate to extracted or releases the claim so
// the row is claimable again.
func (w *Worker) processItem(ctx context.Context, item workqueue.WorkItem) error {
	// Another candidate may have produced this article already; settle the
	// claim without refetching the page.
	if existing, lookupErr := w.articles.GetByURL(ctx, item.URL); lookupErr == nil && existing != nil {
		w.log.Debug("article url already extracted",
			"candidate_id", item.ID,
			"article_id", existing.ID,
			"url", item.URL,
		)
		return w.settleClaim(ctx, item, existing.ExtractionMethod, false)
	}

	result, method, err := w.chain.Extract(ctx, item.URL)
	if err != nil {
		w.releaseClaim(ctx, item.ID)
		return err
	}

	// The chain fetches directly; no proxy fronts these requests.
	proxyStatus := domain.ProxyStatusDisabled
	params := database.InsertParams{
		CandidateLinkID:  item.ID,
		URL:              item.URL,
		Title:            result.Title,
		Authors:          result.Authors,
		PublishedAt:      result.PublishedAt,
		ExtractionMethod: method,
		ProxyStatus:      &proxyStatus,
	}
	if result.Text != "" {
		text := result.Text
		params.Text = &text
	}

	id, inserted, err := w.articles.InsertIfAbsent(ctx, params)
	if err != nil {
		w.releaseClaim(ctx, item.ID)
		return fmt.Errorf("insert article: %w", err)
	}

	if !inserted {
		w.log.Debug("article url already present", "candidate_id", item.ID, "url", item.URL)
	}

	if inserted {
		// Read the row back before trusting the insert; some pooled
		// drivers have reported success without a durable commit.
		article, readErr := w.articles.GetByID(ctx, id)
		if readErr != nil || article == nil {
			w.log.Error(SilentCommitMarker,
				"candidate_id", item.ID,
				"article_id", id,
				"url", item.URL,
			)
			w.releaseClaim(ctx, item.ID)
			return fmt.Errorf("article %s absent after insert", id)
		}

		w.indexArticle(ctx, article)
	}

	return w.settleClaim(ctx, item, method, inserted)
}

// settleClaim promotes a claimed candidate to extracted and logs the result.
func (w *Worker) settleClaim(ctx context.Context, item workqueue.WorkItem, method string, newRow bool) error {
	updated, err := w.candidates.PromoteStatus(
		ctx, item.ID, domain.CandidateStatusClaimed, domain.CandidateStatusExtracted,
	)
	if err != nil {
		return fmt.Errorf("promote candidate: %w", err)
	}
	if !updated {
		w.log.Warn("candidate no longer claimed", "candidate_id", item.ID)
	}

	w.log.Info("article extracted",
		"candidate_id", item.ID,
		"url", item.URL,
		"method", method,
		"new_row", newRow,
	)

	return nil
}

// handleBotProtection reports the domain to the coordinator, extends the
// local CAPTCHA backoff, and releases the domain's unprocessed items.
func (w *Worker) handleBotProtection(ctx context.Context, host string, remaining []workqueue.WorkItem) {
	if err := w.source.ReportFailure(ctx, w.id, host); err != nil {
		w.log.Warn("report failure failed", "domain", host, "error", err.Error())
	}

	state, ok := w.captcha[host]
	if !ok {
		state = &captchaState{}
		w.captcha[host] = state
	}
	if state.current == 0 {
		state.current = w.captchaBase
	} else {
		state.current *= 2
		if state.current > captchaBackoffCap {
			state.current = captchaBackoffCap
		}
	}
	state.until = w.now().Add(state.current)

	w.log.Warn("bot protection on domain, backing off",
		"domain", host,
		"backoff", state.current.String(),
		"until", state.until,
	)

	w.releaseItems(ctx, remaining)
}

func (w *Worker) captchaActive(host string) bool {
	state, ok := w.captcha[host]
	return ok && state.until.After(w.now())
}

// releaseItems returns unprocessed claims to the pool.
func (w *Worker) releaseItems(ctx context.Context, items []workqueue.WorkItem) {
	for _, item := range items {
		w.releaseClaim(ctx, item.ID)
	}
}

func (w *Worker) releaseClaim(ctx context.Context, candidateID string) {
	_, err := w.candidates.PromoteStatus(
		ctx, candidateID, domain.CandidateStatusClaimed, domain.CandidateStatusArticle,
	)
	if err != nil {
		w.log.Error("release claim failed", "candidate_id", candidateID, "error", err.Error())
	}
}

func (w *Worker) indexArticle(ctx context.Context, article *domain.Article) {
	if w.indexer == nil {
		return
	}
	if err := w.indexer.IndexArticle(ctx, article); err != nil {
		w.log.Warn("article indexing failed", "article_id", article.ID, "error", err.Error())
	}
}

func (w *Worker) interRequestDelay() time.Duration {
	lo := w.pacing.InterRequestMin
	hi := w.pacing.InterRequestMax
	if hi <= lo {
		return lo
	}

	return lo + time.Duration(w.rng.Int63n(int64(hi-lo)))
}

// groupByDomain splits a batch into per-domain groups, preserving item
// order within each group.
func groupByDomain(items []workqueue.WorkItem) [][]workqueue.WorkItem {
	index := make(map[string]int)
	groups := make([][]workqueue.WorkItem, 0)
	for _, item := range items {
		i, ok := index[item.Source]
		if !ok {
			i = len(groups)
			index[item.Source] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], item)
	}

	return groups
}
