package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// migration is one named, idempotent schema change.
type migration struct {
	Name string
	SQL  string
}

// Migrate applies all pending schema migrations in order. Each migration
// runs in its own transaction and is recorded in schema_migrations, so
// re-running is a no-op.
func Migrate(ctx context.Context, db *sqlx.DB) (applied int, err error) {
	bootstrapQuery := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`
	if _, bootErr := db.ExecContext(ctx, bootstrapQuery); bootErr != nil {
		return 0, fmt.Errorf("create schema_migrations: %w", bootErr)
	}

	for _, m := range migrations {
		ran, runErr := runMigration(ctx, db, m)
		if runErr != nil {
			return applied, fmt.Errorf("migration %s: %w", m.Name, runErr)
		}
		if ran {
			applied++
		}
	}

	return applied, nil
}

// runMigration applies a single migration if it has not been recorded yet.
func runMigration(ctx context.Context, db *sqlx.DB, m migration) (bool, error) {
	var exists bool
	checkQuery := `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = $1)`
	if err := db.GetContext(ctx, &exists, checkQuery, m.Name); err != nil {
		return false, fmt.Errorf("check applied: %w", err)
	}
	if exists {
		return false, nil
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if _, execErr := tx.ExecContext(ctx, m.SQL); execErr != nil {
		return false, fmt.Errorf("exec: %w", execErr)
	}

	recordQuery := `INSERT INTO schema_migrations (name) VALUES ($1)`
	if _, recordErr := tx.ExecContext(ctx, recordQuery, m.Name); recordErr != nil {
		return false, fmt.Errorf("record: %w", recordErr)
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return false, fmt.Errorf("commit: %w", commitErr)
	}

	return true, nil
}
