// Package discovery produces candidate article URLs for a source, trying
// up to three methods in priority order and feeding effectiveness telemetry
// back into the store.
package discovery

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jonesrussell/newspipe/internal/domain"
	"github.com/jonesrussell/newspipe/internal/logger"
	"github.com/jonesrussell/newspipe/internal/schedule"
	"github.com/jonesrussell/newspipe/internal/urlnorm"
)

// AttemptResult describes the outcome of one discovery method attempt.
type AttemptResult struct {
	Status       string
	StatusCode   int
	ETag         string
	LastModified string
}

// Method is one way of producing candidate URLs for a source.
type Method interface {
	Name() string
	Discover(ctx context.Context, source *domain.Source, meta domain.SourceMeta) ([]string, AttemptResult)
}

// CandidateStore inserts discovered links.
type CandidateStore interface {
	Upsert(ctx context.Context, url, host, sourceID string) (id string, inserted bool, err error)
}

// MetaStore patches source metadata.
type MetaStore interface {
	UpdateMeta(ctx context.Context, id string, patch domain.MetaPatch) error
}

// TelemetryStore persists discovery telemetry and feeds past effectiveness
// back into method ordering.
type TelemetryStore interface {
	RecordMethodAttempt(ctx context.Context, attempt domain.MethodAttempt) error
	RecordOutcome(ctx context.Context, outcome domain.DiscoveryOutcome) error
	MethodEffectivenessBySource(ctx context.Context, sourceID string) ([]*domain.MethodEffectiveness, error)
}

// Report summarizes one discovery pass over a source.
type Report struct {
	SourceID      string
	Method        string
	Status        string
	LinksFound    int
	LinksInserted int
}

// Engine runs the discovery methods for due sources.
type Engine struct {
	methods    []Method
	candidates CandidateStore
	meta       MetaStore
	telemetry  TelemetryStore
	bookkeeper *RSSBookkeeper
	log        logger.Interface
	now        func() time.Time
}

// NewEngine creates a discovery engine. Pass the methods in priority order
// (rss_feed, template_parser, homepage_classifier); per source, the fallback
// methods reorder by observed success rate while rss_feed keeps its slot.
func NewEngine(
	methods []Method,
	candidates CandidateStore,
	meta MetaStore,
	telemetry TelemetryStore,
	bookkeeper *RSSBookkeeper,
	log logger.Interface,
) *Engine {
	return &Engine{
		methods:    methods,
		candidates: candidates,
		meta:       meta,
		telemetry:  telemetry,
		bookkeeper: bookkeeper,
		log:        log,
		now:        time.Now,
	}
}

// RunSource attempts discovery methods for one scheduled source,
// short-circuiting on the first success. Every attempt leaves a telemetry
// row; RSS attempts additionally update the failure bookkeeping fields.
func (e *Engine) RunSource(ctx context.Context, plan schedule.Plan) (*Report, error) {
	source := plan.Source
	started := e.now()

	report := &Report{SourceID: source.ID}

	for _, method := range e.orderMethods(ctx, source.ID) {
		if method.Name() == domain.MethodRSSFeed && plan.SkipRSS {
			e.recordAttempt(ctx, source.ID, method.Name(), AttemptResult{
				Status: domain.DiscoveryStatusSkipped,
			}, 0, 0)
			continue
		}

		attemptStart := e.now()
		links, result := method.Discover(ctx, source, plan.Meta)
		elapsed := e.now().Sub(attemptStart)

		inserted := 0
		if result.Status == domain.DiscoveryStatusSuccess {
			inserted = e.insertLinks(ctx, source, links)
		}

		e.recordAttempt(ctx, source.ID, method.Name(), result, len(links), elapsed)
		e.applyRSSBookkeeping(ctx, source, plan.Meta, method.Name(), result)

		report.Method = method.Name()
		report.Status = result.Status
		report.LinksFound = len(links)
		report.LinksInserted = inserted

		if result.Status == domain.DiscoveryStatusSuccess {
			break
		}
	}

	e.finishSource(ctx, source, plan.Meta, report, e.now().Sub(started))

	return report, nil
}

// orderMethods returns the per-source attempt order. rss_feed keeps its
// configured priority; the fallback methods sort by historical success rate,
// most effective first, with the configured order breaking ties.
func (e *Engine) orderMethods(ctx context.Context, sourceID string) []Method {
	rows, err := e.telemetry.MethodEffectivenessBySource(ctx, sourceID)
	if err != nil {
		e.log.Debug("method effectiveness lookup failed", "source_id", sourceID, "error", err.Error())
		return e.methods
	}
	if len(rows) == 0 {
		return e.methods
	}

	rate := make(map[string]float64, len(rows))
	for _, row := range rows {
		rate[row.Method] = row.SuccessRate
	}

	ordered := make([]Method, 0, len(e.methods))
	fallbacks := make([]Method, 0, len(e.methods))
	for _, method := range e.methods {
		if method.Name() == domain.MethodRSSFeed {
			ordered = append(ordered, method)
			continue
		}
		fallbacks = append(fallbacks, method)
	}
	sort.SliceStable(fallbacks, func(i, j int) bool {
		return rate[fallbacks[i].Name()] > rate[fallbacks[j].Name()]
	})

	return append(ordered, fallbacks...)
}

// insertLinks normalizes and upserts discovered links. The UNIQUE(url)
// constraint makes repeat insertion idempotent; normalization failures are
// logged and skipped.
func (e *Engine) insertLinks(ctx context.Context, source *domain.Source, links []string) int {
	inserted := 0
	for _, link := range links {
		normalized, normErr := urlnorm.Normalize(link)
		if normErr != nil {
			e.log.Debug("skipping unnormalizable link", "url", link, "error", normErr.Error())
			continue
		}

		host, hostErr := urlnorm.Host(normalized)
		if hostErr != nil {
			continue
		}

		_, wasNew, upsertErr := e.candidates.Upsert(ctx, normalized, host, source.ID)
		if upsertErr != nil {
			e.log.Error("candidate upsert failed",
				"source_id", source.ID,
				"url", normalized,
				"error", upsertErr.Error(),
			)
			continue
		}
		if wasNew {
			inserted++
		}
	}

	return inserted
}

// recordAttempt persists a method-effectiveness telemetry row. Telemetry
// failures are logged, never fatal to the pass.
func (e *Engine) recordAttempt(
	ctx context.Context,
	sourceID, method string,
	result AttemptResult,
	articlesFound int,
	elapsed time.Duration,
) {
	attempt := domain.MethodAttempt{
		SourceID:      sourceID,
		Method:        method,
		Status:        result.Status,
		ArticlesFound: articlesFound,
		ResponseMs:    elapsed.Milliseconds(),
	}
	if result.StatusCode > 0 {
		code := result.StatusCode
		attempt.StatusCode = &code
	}

	if err := e.telemetry.RecordMethodAttempt(ctx, attempt); err != nil {
		e.log.Error("record method attempt failed",
			"source_id", sourceID,
			"method", method,
			"error", err.Error(),
		)
	}
}

// applyRSSBookkeeping updates the RSS failure fields after an rss_feed
// attempt. Other methods leave them untouched.
func (e *Engine) applyRSSBookkeeping(
	ctx context.Context,
	source *domain.Source,
	meta domain.SourceMeta,
	method string,
	result AttemptResult,
) {
	if method != domain.MethodRSSFeed || result.Status == domain.DiscoveryStatusSkipped {
		return
	}

	var patch domain.MetaPatch
	kind := ClassifyRSSFailure(result.Status)
	if kind == FailureNone {
		patch = e.bookkeeper.OnSuccess()
		if result.ETag != "" {
			patch[domain.MetaFeedETag] = result.ETag
		}
		if result.LastModified != "" {
			patch[domain.MetaFeedLastModified] = result.LastModified
		}
	} else {
		patch = e.bookkeeper.OnFailure(meta, kind, result.StatusCode, e.now())
	}

	if err := e.meta.UpdateMeta(ctx, source.ID, patch); err != nil {
		e.log.Error("rss bookkeeping update failed",
			"source_id", source.ID,
			"error", err.Error(),
		)
	}
}

// finishSource records the pass outcome and stamps scheduling metadata.
func (e *Engine) finishSource(
	ctx context.Context,
	source *domain.Source,
	meta domain.SourceMeta,
	report *Report,
	elapsed time.Duration,
) {
	outcome := domain.DiscoveryOutcome{
		SourceID:      source.ID,
		Method:        report.Method,
		Status:        report.Status,
		LinksFound:    report.LinksFound,
		LinksInserted: report.LinksInserted,
		ElapsedMs:     elapsed.Milliseconds(),
	}
	if err := e.telemetry.RecordOutcome(ctx, outcome); err != nil {
		e.log.Error("record discovery outcome failed",
			"source_id", source.ID,
			"error", err.Error(),
		)
	}

	patch := domain.MetaPatch{
		domain.MetaLastDiscoveredAt: domain.MetaTime(e.now()),
		domain.MetaAttemptCount:     meta.AttemptCount + 1,
	}
	if report.Status == domain.DiscoveryStatusSuccess && report.Method != domain.MethodRSSFeed {
		patch[domain.MetaLastSuccessfulMethod] = report.Method
	}

	if err := e.meta.UpdateMeta(ctx, source.ID, patch); err != nil {
		e.log.Error("scheduling metadata update failed",
			"source_id", source.ID,
			"error", err.Error(),
		)
	}

	e.log.Info("discovery pass finished",
		"source_id", source.ID,
		"source", source.CanonicalName,
		"method", report.Method,
		"status", report.Status,
		"links_found", report.LinksFound,
		"links_inserted", report.LinksInserted,
	)
}

// Run executes discovery over a list of scheduled plans, in order.
func (e *Engine) Run(ctx context.Context, plans []schedule.Plan) error {
	for _, plan := range plans {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if _, err := e.RunSource(ctx, plan); err != nil {
			return fmt.Errorf("discover source %s: %w", plan.Source.ID, err)
		}
	}

	return nil
}
