package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/newspipe/internal/domain"
)

// TelemetryRepository handles the discovery telemetry tables:
// discovery_method_effectiveness, http_status_tracking, discovery_outcomes.
type TelemetryRepository struct {
	db *sqlx.DB
}

// NewTelemetryRepository creates a new telemetry repository.
func NewTelemetryRepository(db *sqlx.DB) *TelemetryRepository {
	return &TelemetryRepository{db: db}
}

// RecordMethodAttempt upserts the (source, method) effectiveness row. The
// rolling success rate and average response time are folded in SQL so
// concurrent attempts never lose updates.
func (r *TelemetryRepository) RecordMethodAttempt(ctx context.Context, attempt domain.MethodAttempt) error {
	query := `
		INSERT INTO discovery_method_effectiveness
			(id, source_id, method, status, articles_found, success_rate,
			 attempt_count, avg_response_ms, last_status_code, last_attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $8, NOW())
		ON CONFLICT (source_id, method) DO UPDATE SET
			status = EXCLUDED.status,
			articles_found = discovery_method_effectiveness.articles_found + EXCLUDED.articles_found,
			success_rate = (discovery_method_effectiveness.success_rate
				* discovery_method_effectiveness.attempt_count + EXCLUDED.success_rate)
				/ (discovery_method_effectiveness.attempt_count + 1),
			avg_response_ms = (discovery_method_effectiveness.avg_response_ms
				* discovery_method_effectiveness.attempt_count + EXCLUDED.avg_response_ms)
				/ (discovery_method_effectiveness.attempt_count + 1),
			attempt_count = discovery_method_effectiveness.attempt_count + 1,
			last_status_code = EXCLUDED.last_status_code,
			last_attempted_at = NOW(),
			updated_at = NOW()
	`

	successValue := 0.0
	if attempt.Status == domain.DiscoveryStatusSuccess {
		successValue = 1.0
	}

	_, err := r.db.ExecContext(
		ctx, query,
		uuid.NewString(), attempt.SourceID, attempt.Method, attempt.Status,
		attempt.ArticlesFound, successValue, float64(attempt.ResponseMs),
		attempt.StatusCode,
	)
	if err != nil {
		return fmt.Errorf("record method attempt: %w", err)
	}

	return nil
}

// RecordHTTPStatus inserts one observed HTTP response row.
func (r *TelemetryRepository) RecordHTTPStatus(ctx context.Context, record domain.HTTPStatusRecord) error {
	query := `
		INSERT INTO http_status_tracking (id, source_id, url, status_code, method, response_ms)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(
		ctx, query,
		uuid.NewString(), record.SourceID, record.URL, record.StatusCode,
		record.Method, record.ResponseMs,
	)
	if err != nil {
		return fmt.Errorf("record http status: %w", err)
	}

	return nil
}

// RecordOutcome inserts one discovery outcome row for a completed pass.
func (r *TelemetryRepository) RecordOutcome(ctx context.Context, outcome domain.DiscoveryOutcome) error {
	query := `
		INSERT INTO discovery_outcomes
			(id, source_id, method, status, links_found, links_inserted, elapsed_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(
		ctx, query,
		uuid.NewString(), outcome.SourceID, outcome.Method, outcome.Status,
		outcome.LinksFound, outcome.LinksInserted, outcome.ElapsedMs,
	)
	if err != nil {
		return fmt.Errorf("record discovery outcome: %w", err)
	}

	return nil
}

// MethodEffectivenessBySource returns the effectiveness rows for one source,
// in method priority order.
func (r *TelemetryRepository) MethodEffectivenessBySource(
	ctx context.Context,
	sourceID string,
) ([]*domain.MethodEffectiveness, error) {
	query := `
		SELECT id, source_id, method, status, articles_found, success_rate,
			attempt_count, avg_response_ms, last_status_code, last_attempted_at,
			created_at, updated_at
		FROM discovery_method_effectiveness
		WHERE source_id = $1
		ORDER BY CASE method
			WHEN 'rss_feed' THEN 1
			WHEN 'template_parser' THEN 2
			WHEN 'homepage_classifier' THEN 3
		END
	`

	var rows []*domain.MethodEffectiveness
	if err := r.db.SelectContext(ctx, &rows, query, sourceID); err != nil {
		return nil, fmt.Errorf("list method effectiveness: %w", err)
	}
	if rows == nil {
		rows = []*domain.MethodEffectiveness{}
	}

	return rows, nil
}
