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

// ErrArticleNotFound is returned by GetByID when no row exists. The worker
// relies on this for post-commit verification.
var ErrArticleNotFound = errors.New("article not found")

// articleSelectColumns lists columns for SELECT queries on articles.
const articleSelectColumns = `id, candidate_link_id, url, title, text, authors,
	published_at, status, status_reason, extracted_at, extraction_method,
	proxy_status, created_at, updated_at`

// ArticleRepository handles database operations for extracted articles.
type ArticleRepository struct {
	db *sqlx.DB
}

// NewArticleRepository creates a new article repository.
func NewArticleRepository(db *sqlx.DB) *ArticleRepository {
	return &ArticleRepository{db: db}
}

// InsertParams contains the fields persisted on a successful extraction.
type InsertParams struct {
	CandidateLinkID  string
	URL              string
	Title            string
	Text             *string
	Authors          []string
	PublishedAt      *time.Time
	ExtractionMethod string
	ProxyStatus      *string
}

// InsertIfAbsent inserts an article row unique on URL. A URL conflict is a
// silent no-op (idempotency is a feature); inserted reports whether a new
// row was created, and id is the new row's ID when it was.
func (r *ArticleRepository) InsertIfAbsent(
	ctx context.Context,
	params InsertParams,
) (id string, inserted bool, err error) {
	query := `
		INSERT INTO articles (id, candidate_link_id, url, title, text, authors,
			published_at, status, extraction_method, proxy_status, extracted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'extracted', $8, $9, NOW())
		ON CONFLICT (url) DO NOTHING
		RETURNING id
	`

	newID := uuid.NewString()
	insertErr := r.db.GetContext(
		ctx, &id, query,
		newID, params.CandidateLinkID, params.URL, params.Title, params.Text,
		pq.Array(params.Authors), params.PublishedAt, params.ExtractionMethod,
		params.ProxyStatus,
	)
	if insertErr == nil {
		return id, true, nil
	}
	if errors.Is(insertErr, sql.ErrNoRows) {
		return "", false, nil
	}

	return "", false, fmt.Errorf("insert article: %w", insertErr)
}

// GetByID returns an article by ID, or ErrArticleNotFound.
func (r *ArticleRepository) GetByID(ctx context.Context, id string) (*domain.Article, error) {
	query := `SELECT ` + articleSelectColumns + ` FROM articles WHERE id = $1`

	var article domain.Article
	if err := r.db.GetContext(ctx, &article, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrArticleNotFound
		}
		return nil, fmt.Errorf("get article: %w", err)
	}

	return &article, nil
}

// GetByURL returns an article by its unique URL, or ErrArticleNotFound.
func (r *ArticleRepository) GetByURL(ctx context.Context, url string) (*domain.Article, error) {
	query := `SELECT ` + articleSelectColumns + ` FROM articles WHERE url = $1`

	var article domain.Article
	if err := r.db.GetContext(ctx, &article, query, url); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrArticleNotFound
		}
		return nil, fmt.Errorf("get article by url: %w", err)
	}

	return &article, nil
}

// PromoteStatus performs a compare-and-set status transition on an article.
// Transitions outside the canonical state machine are rejected with
// ErrInvalidTransition before any write.
func (r *ArticleRepository) PromoteStatus(ctx context.Context, id, from, to string) (bool, error) {
	if !domain.ArticleTransitionAllowed(from, to) {
		return false, fmt.Errorf("article %s: %s -> %s: %w", id, from, to, ErrInvalidTransition)
	}

	query := `
		UPDATE articles
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`

	result, err := r.db.ExecContext(ctx, query, id, from, to)
	if err != nil {
		return false, fmt.Errorf("promote article status: %w", err)
	}

	n, affectedErr := result.RowsAffected()
	if affectedErr != nil {
		return false, affectedErr
	}

	return n > 0, nil
}

// SweepNullText moves extracted articles with null text to paused with
// reason null_text. Returns the number of rows swept.
func (r *ArticleRepository) SweepNullText(ctx context.Context) (int, error) {
	query := `
		UPDATE articles
		SET status = 'paused', status_reason = 'null_text', updated_at = NOW()
		WHERE status = 'extracted' AND text IS NULL
	`

	result, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("sweep null-text articles: %w", err)
	}

	n, affectedErr := result.RowsAffected()
	if affectedErr != nil {
		return 0, affectedErr
	}

	return int(n), nil
}

// CountNullText counts extracted articles with null text without writing.
// Used by the housekeeper dry-run.
func (r *ArticleRepository) CountNullText(ctx context.Context) (int, error) {
	query := `SELECT COUNT(*) FROM articles WHERE status = 'extracted' AND text IS NULL`

	var count int
	if err := r.db.GetContext(ctx, &count, query); err != nil {
		return 0, fmt.Errorf("count null-text articles: %w", err)
	}

	return count, nil
}

// CountStaleInStatus counts articles sitting in a status since before the
// cutoff. Used for housekeeper warnings.
func (r *ArticleRepository) CountStaleInStatus(
	ctx context.Context,
	status string,
	cutoff time.Time,
) (int, error) {
	query := `SELECT COUNT(*) FROM articles WHERE status = $1 AND updated_at < $2`

	var count int
	if err := r.db.GetContext(ctx, &count, query, status, cutoff); err != nil {
		return 0, fmt.Errorf("count stale articles: %w", err)
	}

	return count, nil
}
