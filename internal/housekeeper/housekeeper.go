// Package housekeeper runs the daily sweep that expires stale candidates,
// pauses null-text articles, and warns about rows stuck mid-pipeline.
package housekeeper

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jonesrussell/newspipe/internal/config"
	"github.com/jonesrussell/newspipe/internal/domain"
	"github.com/jonesrussell/newspipe/internal/logger"
)

// dailySchedule runs the sweep at 03:00 local time, outside publisher
// peak hours.
const dailySchedule = "0 3 * * *"

// CandidateStore is the slice of the candidate repository the sweep needs.
type CandidateStore interface {
	ExpireStale(ctx context.Context, cutoff time.Time) (int, error)
	CountExpirable(ctx context.Context, cutoff time.Time) (int, error)
	CountStaleInStatus(ctx context.Context, status string, cutoff time.Time) (int, error)
}

// ArticleStore is the slice of the article repository the sweep needs.
type ArticleStore interface {
	SweepNullText(ctx context.Context) (int, error)
	CountNullText(ctx context.Context) (int, error)
	CountStaleInStatus(ctx context.Context, status string, cutoff time.Time) (int, error)
}

// Report summarizes one sweep. In dry-run mode the counts are what would
// have been written.
type Report struct {
	DryRun            bool `json:"dry_run"`
	ExpiredCandidates int  `json:"expired_candidates"`
	PausedNullText    int  `json:"paused_null_text"`
	StuckVerified     int  `json:"stuck_verified"`
	StuckExtracted    int  `json:"stuck_extracted"`
	StuckCleaned      int  `json:"stuck_cleaned"`
	OrphanedClaims    int  `json:"orphaned_claims"`
}

// Housekeeper owns the daily maintenance sweep.
type Housekeeper struct {
	candidates CandidateStore
	articles   ArticleStore
	log        logger.Interface

	candidateExpiration time.Duration
	stuckThreshold      time.Duration
	workerTimeout       time.Duration
	dryRun              bool
	now                 func() time.Time
}

// Option configures a Housekeeper.
type Option func(*Housekeeper)

// WithDryRun computes the sweep sets and counts without writing.
func WithDryRun() Option {
	return func(h *Housekeeper) { h.dryRun = true }
}

// New creates a housekeeper from the pipeline configuration.
func New(
	cfg *config.Config,
	candidates CandidateStore,
	articles ArticleStore,
	log logger.Interface,
	opts ...Option,
) *Housekeeper {
	h := &Housekeeper{
		candidates:          candidates,
		articles:            articles,
		log:                 log,
		candidateExpiration: cfg.CandidateExpiration(),
		stuckThreshold:      cfg.StuckStageThreshold(),
		workerTimeout:       cfg.WorkerTimeout(),
		now:                 time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}

	return h
}

// RunOnce performs a single sweep. Write conflicts are logged and skipped;
// the next sweep retries them.
func (h *Housekeeper) RunOnce(ctx context.Context) (*Report, error) {
	now := h.now()
	report := &Report{DryRun: h.dryRun}
	expirationCutoff := now.Add(-h.candidateExpiration)

	if h.dryRun {
		expired, err := h.candidates.CountExpirable(ctx, expirationCutoff)
		if err != nil {
			return nil, fmt.Errorf("count expirable candidates: %w", err)
		}
		report.ExpiredCandidates = expired

		nullText, err := h.articles.CountNullText(ctx)
		if err != nil {
			return nil, fmt.Errorf("count null-text articles: %w", err)
		}
		report.PausedNullText = nullText
	} else {
		expired, err := h.candidates.ExpireStale(ctx, expirationCutoff)
		if err != nil {
			h.log.Error("candidate expiration failed, retrying next sweep", "error", err.Error())
		} else {
			report.ExpiredCandidates = expired
		}

		nullText, err := h.articles.SweepNullText(ctx)
		if err != nil {
			h.log.Error("null-text sweep failed, retrying next sweep", "error", err.Error())
		} else {
			report.PausedNullText = nullText
		}
	}

	h.warnStuck(ctx, now, report)

	h.log.Info("housekeeping sweep finished",
		"dry_run", report.DryRun,
		"expired_candidates", report.ExpiredCandidates,
		"paused_null_text", report.PausedNullText,
	)

	return report, nil
}

// warnStuck counts rows sitting past the per-stage threshold. Warning only;
// no state changes.
func (h *Housekeeper) warnStuck(ctx context.Context, now time.Time, report *Report) {
	cutoff := now.Add(-h.stuckThreshold)

	if count, err := h.candidates.CountStaleInStatus(ctx, domain.CandidateStatusVerified, cutoff); err == nil {
		report.StuckVerified = count
	}
	if count, err := h.articles.CountStaleInStatus(ctx, domain.ArticleStatusExtracted, cutoff); err == nil {
		report.StuckExtracted = count
	}
	if count, err := h.articles.CountStaleInStatus(ctx, domain.ArticleStatusCleaned, cutoff); err == nil {
		report.StuckCleaned = count
	}

	if report.StuckVerified > 0 || report.StuckExtracted > 0 || report.StuckCleaned > 0 {
		h.log.Warn("rows stuck past stage threshold",
			"threshold", h.stuckThreshold.String(),
			"candidates_verified", report.StuckVerified,
			"articles_extracted", report.StuckExtracted,
			"articles_cleaned", report.StuckCleaned,
		)
	}

	// Claimed rows older than the worker timeout belong to workers that died
	// mid-batch; the coordinator reclaims the lease, not the rows.
	claimCutoff := now.Add(-h.workerTimeout)
	if count, err := h.candidates.CountStaleInStatus(ctx, domain.CandidateStatusClaimed, claimCutoff); err == nil {
		report.OrphanedClaims = count
	}
	if report.OrphanedClaims > 0 {
		h.log.Warn("claimed candidates outlived their worker",
			"count", report.OrphanedClaims,
			"older_than", h.workerTimeout.String(),
		)
	}
}

// Schedule runs the sweep daily until the context is cancelled.
func (h *Housekeeper) Schedule(ctx context.Context) error {
	scheduler := cron.New()
	_, err := scheduler.AddFunc(dailySchedule, func() {
		if _, sweepErr := h.RunOnce(ctx); sweepErr != nil {
			h.log.Error("scheduled sweep failed", "error", sweepErr.Error())
		}
	})
	if err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}

	scheduler.Start()
	<-ctx.Done()

	stopCtx := scheduler.Stop()
	<-stopCtx.Done()

	return ctx.Err()
}
