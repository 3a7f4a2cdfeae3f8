package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jonesrussell/newspipe/internal/domain"
)

// ErrInvalidTransition is returned when a status promotion is not part of
// the canonical state machine. Callers should check with errors.Is().
var ErrInvalidTransition = errors.New("status transition not allowed")

// candidateSelectColumns lists columns for SELECT queries on candidate_links.
const candidateSelectColumns = `id, source_id, url, host, status, discovered_at,
	verified_at, claimed_at, error_count, last_error, created_at, updated_at`

// CandidateRepository handles database operations for candidate links.
type CandidateRepository struct {
	db *sqlx.DB
}

// NewCandidateRepository creates a new candidate repository.
func NewCandidateRepository(db *sqlx.DB) *CandidateRepository {
	return &CandidateRepository{db: db}
}

// Upsert inserts a candidate link in discovered status, idempotent on the
// normalized URL. Returns the row ID and whether a new row was inserted.
func (r *CandidateRepository) Upsert(
	ctx context.Context,
	url, host, sourceID string,
) (id string, inserted bool, err error) {
	insertQuery := `
		INSERT INTO candidate_links (id, source_id, url, host, status)
		VALUES ($1, $2, $3, $4, 'discovered')
		ON CONFLICT (url) DO NOTHING
		RETURNING id
	`

	newID := uuid.NewString()
	insertErr := r.db.GetContext(ctx, &id, insertQuery, newID, sourceID, url, host)
	if insertErr == nil {
		return id, true, nil
	}
	if !errors.Is(insertErr, sql.ErrNoRows) {
		return "", false, fmt.Errorf("upsert candidate: %w", insertErr)
	}

	// Conflict path: the URL already exists, fetch the existing ID.
	selectQuery := `SELECT id FROM candidate_links WHERE url = $1`
	if selectErr := r.db.GetContext(ctx, &id, selectQuery, url); selectErr != nil {
		return "", false, fmt.Errorf("select existing candidate: %w", selectErr)
	}

	return id, false, nil
}

// GetByID returns a candidate link by its ID.
func (r *CandidateRepository) GetByID(ctx context.Context, id string) (*domain.CandidateLink, error) {
	query := `SELECT ` + candidateSelectColumns + ` FROM candidate_links WHERE id = $1`

	var link domain.CandidateLink
	if err := r.db.GetContext(ctx, &link, query, id); err != nil {
		return nil, fmt.Errorf("get candidate: %w", err)
	}

	return &link, nil
}

// PromoteStatus performs a compare-and-set status transition on a candidate.
// Returns whether the row transitioned. Transitions outside the canonical
// state machine are rejected with ErrInvalidTransition before any write.
func (r *CandidateRepository) PromoteStatus(ctx context.Context, id, from, to string) (bool, error) {
	if !domain.CandidateTransitionAllowed(from, to) {
		return false, fmt.Errorf("candidate %s: %s -> %s: %w", id, from, to, ErrInvalidTransition)
	}

	query := `
		UPDATE candidate_links
		SET status = $3,
			verified_at = CASE WHEN $3 IN ('verified', 'article') THEN NOW() ELSE verified_at END,
			claimed_at = CASE WHEN $3 = 'claimed' THEN NOW() ELSE claimed_at END,
			updated_at = NOW()
		WHERE id = $1 AND status = $2
	`

	result, err := r.db.ExecContext(ctx, query, id, from, to)
	if err != nil {
		return false, fmt.Errorf("promote candidate status: %w", err)
	}

	n, affectedErr := result.RowsAffected()
	if affectedErr != nil {
		return false, affectedErr
	}

	return n > 0, nil
}

// RecordVerifyError increments the error counter on a candidate without
// changing its status.
func (r *CandidateRepository) RecordVerifyError(ctx context.Context, id, lastError string) error {
	query := `
		UPDATE candidate_links
		SET error_count = error_count + 1, last_error = $2, updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id, lastError)
	return execRequireRows(result, err, fmt.Errorf("candidate not found: %s", id))
}

// ListByStatus returns candidates in the given status, oldest first.
func (r *CandidateRepository) ListByStatus(
	ctx context.Context,
	status string,
	limit int,
) ([]*domain.CandidateLink, error) {
	query := `
		SELECT ` + candidateSelectColumns + `
		FROM candidate_links
		WHERE status = $1
		ORDER BY discovered_at ASC
		LIMIT $2
	`

	var links []*domain.CandidateLink
	if err := r.db.SelectContext(ctx, &links, query, status, limit); err != nil {
		return nil, fmt.Errorf("list candidates by status: %w", err)
	}
	if links == nil {
		links = []*domain.CandidateLink{}
	}

	return links, nil
}

// BatchClaimForExtraction atomically claims up to limit article candidates
// on the given hosts, at most maxPerDomain per host. Claimed rows move to
// claimed status inside one transaction; FOR UPDATE SKIP LOCKED keeps
// concurrent claimers from blocking on each other's rows.
func (r *CandidateRepository) BatchClaimForExtraction(
	ctx context.Context,
	hosts []string,
	limit, maxPerDomain int,
) ([]*domain.CandidateLink, error) {
	if len(hosts) == 0 || limit <= 0 {
		return []*domain.CandidateLink{}, nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	// Overselect so the per-domain cap still leaves enough rows to fill the
	// batch; rows locked but not claimed unlock at commit.
	selectQuery := `
		SELECT ` + candidateSelectColumns + `
		FROM candidate_links
		WHERE status = 'article' AND host = ANY($1)
		ORDER BY discovered_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`

	var locked []*domain.CandidateLink
	overselect := limit * len(hosts)
	if selectErr := tx.SelectContext(ctx, &locked, selectQuery, pq.Array(hosts), overselect); selectErr != nil {
		return nil, fmt.Errorf("select claimable candidates: %w", selectErr)
	}

	claimed := capPerDomain(locked, limit, maxPerDomain)
	if len(claimed) == 0 {
		return []*domain.CandidateLink{}, nil
	}

	ids := make([]string, 0, len(claimed))
	for _, link := range claimed {
		ids = append(ids, link.ID)
	}

	updateQuery := `
		UPDATE candidate_links
		SET status = 'claimed', claimed_at = NOW(), updated_at = NOW()
		WHERE id = ANY($1)
	`
	if _, updateErr := tx.ExecContext(ctx, updateQuery, pq.Array(ids)); updateErr != nil {
		return nil, fmt.Errorf("claim candidates: %w", updateErr)
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return nil, fmt.Errorf("commit claim transaction: %w", commitErr)
	}

	now := time.Now()
	for _, link := range claimed {
		link.Status = domain.CandidateStatusClaimed
		link.ClaimedAt = &now
	}

	return claimed, nil
}

// capPerDomain selects at most maxPerDomain rows per host and at most limit
// rows overall, preserving input order.
func capPerDomain(links []*domain.CandidateLink, limit, maxPerDomain int) []*domain.CandidateLink {
	if maxPerDomain <= 0 {
		maxPerDomain = limit
	}

	perHost := make(map[string]int)
	out := make([]*domain.CandidateLink, 0, limit)
	for _, link := range links {
		if len(out) >= limit {
			break
		}
		if perHost[link.Host] >= maxPerDomain {
			continue
		}
		perHost[link.Host]++
		out = append(out, link)
	}

	return out
}

// PendingHosts returns the distinct hosts that have candidates in article
// status, with pending counts, ordered by host. Used by the coordinator for
// lease assignment and single-domain detection.
func (r *CandidateRepository) PendingHosts(ctx context.Context) ([]domain.HostCount, error) {
	query := `
		SELECT host, COUNT(*) AS count
		FROM candidate_links
		WHERE status = 'article'
		GROUP BY host
		ORDER BY host ASC
	`

	var hosts []domain.HostCount
	if err := r.db.SelectContext(ctx, &hosts, query); err != nil {
		return nil, fmt.Errorf("list pending hosts: %w", err)
	}
	if hosts == nil {
		hosts = []domain.HostCount{}
	}

	return hosts, nil
}

// SingleDomainDatasets returns the datasets whose candidate pool spans
// exactly one distinct host. The scheduler floors their discovery cadence.
func (r *CandidateRepository) SingleDomainDatasets(ctx context.Context) (map[string]bool, error) {
	query := `
		SELECT s.dataset
		FROM candidate_links c
		JOIN sources s ON s.id = c.source_id
		GROUP BY s.dataset
		HAVING COUNT(DISTINCT c.host) = 1
	`

	var datasets []string
	if err := r.db.SelectContext(ctx, &datasets, query); err != nil {
		return nil, fmt.Errorf("list single-domain datasets: %w", err)
	}

	out := make(map[string]bool, len(datasets))
	for _, dataset := range datasets {
		out[dataset] = true
	}

	return out, nil
}

// ExpireStale moves article candidates older than the cutoff to paused.
// Returns the number of rows expired.
func (r *CandidateRepository) ExpireStale(ctx context.Context, cutoff time.Time) (int, error) {
	query := `
		UPDATE candidate_links
		SET status = 'paused', updated_at = NOW()
		WHERE status = 'article' AND discovered_at < $1
	`

	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire stale candidates: %w", err)
	}

	n, affectedErr := result.RowsAffected()
	if affectedErr != nil {
		return 0, affectedErr
	}

	return int(n), nil
}

// CountExpirable counts the candidates ExpireStale would pause, for
// housekeeper dry runs.
func (r *CandidateRepository) CountExpirable(ctx context.Context, cutoff time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM candidate_links
		WHERE status = 'article' AND discovered_at < $1
	`

	var count int
	if err := r.db.GetContext(ctx, &count, query, cutoff); err != nil {
		return 0, fmt.Errorf("count expirable candidates: %w", err)
	}

	return count, nil
}

// CountStaleInStatus counts candidates that have sat in a status since
// before the cutoff. Used for housekeeper warnings and dry runs.
func (r *CandidateRepository) CountStaleInStatus(
	ctx context.Context,
	status string,
	cutoff time.Time,
) (int, error) {
	query := `
		SELECT COUNT(*) FROM candidate_links
		WHERE status = $1 AND updated_at < $2
	`

	var count int
	if err := r.db.GetContext(ctx, &count, query, status, cutoff); err != nil {
		return 0, fmt.Errorf("count stale candidates: %w", err)
	}

	return count, nil
}
