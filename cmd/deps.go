package cmd

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/newspipe/internal/config"
	"github.com/jonesrussell/newspipe/internal/database"
	"github.com/jonesrussell/newspipe/internal/logger"
)

// storeDeps bundles the database handle and repositories shared by the
// commands.
type storeDeps struct {
	db         *sqlx.DB
	sources    *database.SourceRepository
	candidates *database.CandidateRepository
	articles   *database.ArticleRepository
	telemetry  *database.TelemetryRepository
}

// openStore connects to Postgres and wires the repositories.
func openStore(cfg *config.Config, log logger.Interface) (*storeDeps, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	log.Debug("database connected")

	return &storeDeps{
		db:         db,
		sources:    database.NewSourceRepository(db),
		candidates: database.NewCandidateRepository(db),
		articles:   database.NewArticleRepository(db),
		telemetry:  database.NewTelemetryRepository(db),
	}, nil
}

func (d *storeDeps) Close() {
	_ = d.db.Close()
}
