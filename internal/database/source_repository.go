package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jonesrussell/newspipe/internal/domain"
)

// sourceSelectColumns lists columns for SELECT queries on sources.
const sourceSelectColumns = `id, host, canonical_name, dataset, metadata, created_at, updated_at`

// SourceRepository handles database operations for news sources.
type SourceRepository struct {
	db *sqlx.DB
}

// NewSourceRepository creates a new source repository.
func NewSourceRepository(db *sqlx.DB) *SourceRepository {
	return &SourceRepository{db: db}
}

// Create inserts a new source and returns its ID.
func (r *SourceRepository) Create(
	ctx context.Context,
	host, canonicalName, dataset string,
) (string, error) {
	query := `
		INSERT INTO sources (id, host, canonical_name, dataset)
		VALUES ($1, $2, $3, $4)
	`

	id := uuid.NewString()
	if _, err := r.db.ExecContext(ctx, query, id, host, canonicalName, dataset); err != nil {
		return "", fmt.Errorf("create source: %w", err)
	}

	return id, nil
}

// GetByID returns a source by ID.
func (r *SourceRepository) GetByID(ctx context.Context, id string) (*domain.Source, error) {
	query := `SELECT ` + sourceSelectColumns + ` FROM sources WHERE id = $1`

	var source domain.Source
	if err := r.db.GetContext(ctx, &source, query, id); err != nil {
		return nil, fmt.Errorf("get source: %w", err)
	}

	return &source, nil
}

// List returns all sources ordered by canonical name.
func (r *SourceRepository) List(ctx context.Context) ([]*domain.Source, error) {
	query := `SELECT ` + sourceSelectColumns + ` FROM sources ORDER BY canonical_name ASC`

	var sources []*domain.Source
	if err := r.db.SelectContext(ctx, &sources, query); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	if sources == nil {
		sources = []*domain.Source{}
	}

	return sources, nil
}

// ListByDataset returns the sources tagged with the given dataset.
func (r *SourceRepository) ListByDataset(ctx context.Context, dataset string) ([]*domain.Source, error) {
	query := `SELECT ` + sourceSelectColumns + ` FROM sources WHERE dataset = $1 ORDER BY canonical_name ASC`

	var sources []*domain.Source
	if err := r.db.SelectContext(ctx, &sources, query, dataset); err != nil {
		return nil, fmt.Errorf("list sources by dataset: %w", err)
	}
	if sources == nil {
		sources = []*domain.Source{}
	}

	return sources, nil
}

// UpdateMeta applies a partial update to the source metadata map. Keys with
// nil values are removed, other keys are set; keys absent from the patch are
// left untouched. The merge happens in SQL so concurrent patches to disjoint
// keys do not clobber each other.
func (r *SourceRepository) UpdateMeta(ctx context.Context, id string, patch domain.MetaPatch) error {
	if len(patch) == 0 {
		return nil
	}

	removeKeys := make([]string, 0)
	setPairs := make(map[string]any)
	for key, value := range patch {
		if value == nil {
			removeKeys = append(removeKeys, key)
			continue
		}
		setPairs[key] = value
	}

	setJSON, marshalErr := json.Marshal(setPairs)
	if marshalErr != nil {
		return fmt.Errorf("marshal metadata patch: %w", marshalErr)
	}

	query := `
		UPDATE sources
		SET metadata = (metadata - $2::text[]) || $3::jsonb,
			updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id, pq.Array(removeKeys), setJSON)
	return execRequireRows(result, err, fmt.Errorf("source not found: %s", id))
}
