// Package schedule decides which sources are due for discovery. The
// computation is pure over its inputs; errors come only from store reads
// and bubble up to the caller.
package schedule

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jonesrussell/newspipe/internal/domain"
)

// Cadence defaults.
const (
	// DefaultCadence is the minimum interval between discovery attempts.
	DefaultCadence = 6 * time.Hour
	// SingleDomainCadence is the floor applied to single-domain datasets.
	SingleDomainCadence = 24 * time.Hour
	// DefaultRSSRetryWindow is how long RSS stays disabled after being
	// marked missing.
	DefaultRSSRetryWindow = 30 * 24 * time.Hour
)

// SourceLister reads sources from the store.
type SourceLister interface {
	List(ctx context.Context) ([]*domain.Source, error)
}

// Plan is one scheduled discovery decision for a source.
type Plan struct {
	Source  *domain.Source
	Meta    domain.SourceMeta
	NextDue time.Time
	// SkipRSS instructs discovery to skip the RSS method; all other
	// methods remain eligible.
	SkipRSS bool
}

// Scheduler selects sources due for discovery.
type Scheduler struct {
	sources        SourceLister
	rssRetryWindow time.Duration
	// singleDomainDatasets marks datasets whose candidate pool contains a
	// single distinct domain; these get conservative cadence.
	singleDomainDatasets map[string]bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRSSRetryWindow overrides the RSS retry window.
func WithRSSRetryWindow(window time.Duration) Option {
	return func(s *Scheduler) { s.rssRetryWindow = window }
}

// WithSingleDomainDatasets marks datasets subject to the single-domain
// cadence floor.
func WithSingleDomainDatasets(datasets map[string]bool) Option {
	return func(s *Scheduler) { s.singleDomainDatasets = datasets }
}

// New creates a scheduler over the given source store.
func New(sources SourceLister, opts ...Option) *Scheduler {
	s := &Scheduler{
		sources:              sources,
		rssRetryWindow:       DefaultRSSRetryWindow,
		singleDomainDatasets: map[string]bool{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DueSources returns the sources due for discovery at now, ordered by
// next_due ascending with lower attempt counts first on ties. With forceAll
// set, every source is returned regardless of cadence (manual re-crawls).
func (s *Scheduler) DueSources(ctx context.Context, now time.Time, forceAll bool) ([]Plan, error) {
	all, err := s.sources.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	plans := make([]Plan, 0, len(all))
	for _, source := range all {
		meta, decodeErr := domain.DecodeSourceMeta(source.Metadata)
		if decodeErr != nil {
			return nil, fmt.Errorf("source %s: %w", source.ID, decodeErr)
		}

		plan := Plan{
			Source:  source,
			Meta:    meta,
			NextDue: s.nextDue(source, meta),
			SkipRSS: !s.RSSAllowed(meta, now),
		}

		if forceAll || !plan.NextDue.After(now) {
			plans = append(plans, plan)
		}
	}

	sort.SliceStable(plans, func(i, j int) bool {
		if plans[i].NextDue.Equal(plans[j].NextDue) {
			return plans[i].Meta.AttemptCount < plans[j].Meta.AttemptCount
		}
		return plans[i].NextDue.Before(plans[j].NextDue)
	})

	return plans, nil
}

// nextDue computes last_discovered_at + cadence. A source never discovered
// is immediately due.
func (s *Scheduler) nextDue(source *domain.Source, meta domain.SourceMeta) time.Time {
	if meta.LastDiscoveredAt == nil {
		return time.Time{}
	}
	return meta.LastDiscoveredAt.Add(s.Cadence(source, meta))
}

// Cadence returns the discovery interval for a source: the metadata
// cadence_hours override when present, else the default, floored at 24h
// for single-domain datasets.
func (s *Scheduler) Cadence(source *domain.Source, meta domain.SourceMeta) time.Duration {
	cadence := DefaultCadence
	if meta.CadenceHours > 0 {
		cadence = time.Duration(meta.CadenceHours * float64(time.Hour))
	}

	if s.singleDomainDatasets[source.Dataset] && cadence < SingleDomainCadence {
		cadence = SingleDomainCadence
	}

	return cadence
}

// RSSAllowed reports whether discovery may attempt the RSS method. A source
// marked rss_missing stays gated until the retry window has elapsed.
func (s *Scheduler) RSSAllowed(meta domain.SourceMeta, now time.Time) bool {
	if meta.RSSMissing == nil {
		return true
	}
	return !now.Before(meta.RSSMissing.Add(s.rssRetryWindow))
}
