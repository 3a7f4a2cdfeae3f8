package database

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/newspipe/internal/domain"
)

func TestArticleInsertIfAbsentInsertsNewRow(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewArticleRepository(db)

	text := "The full article body."
	mock.ExpectQuery("INSERT INTO articles").
		WithArgs(
			sqlmock.AnyArg(), // generated id
			"cand-1", "https://example.com/story", "Headline", &text,
			sqlmock.AnyArg(), // authors array
			sqlmock.AnyArg(), // published_at
			"readability",
			nil,
		).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("art-1"))

	id, inserted, err := repo.InsertIfAbsent(context.Background(), InsertParams{
		CandidateLinkID:  "cand-1",
		URL:              "https://example.com/story",
		Title:            "Headline",
		Text:             &text,
		Authors:          []string{"Jane Reporter"},
		ExtractionMethod: "readability",
	})
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, "art-1", id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestArticleInsertIfAbsentURLConflictIsNoOp(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewArticleRepository(db)

	mock.ExpectQuery("INSERT INTO articles").
		WillReturnError(sql.ErrNoRows)

	id, inserted, err := repo.InsertIfAbsent(context.Background(), InsertParams{
		CandidateLinkID:  "cand-1",
		URL:              "https://example.com/story",
		Title:            "Headline",
		ExtractionMethod: "readability",
	})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Empty(t, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestArticleGetByIDNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewArticleRepository(db)

	mock.ExpectQuery("SELECT (.+) FROM articles WHERE id").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrArticleNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestArticlePromoteStatusRejectsInvalidTransition(t *testing.T) {
	db, _ := newMockDB(t)
	repo := NewArticleRepository(db)

	_, err := repo.PromoteStatus(
		context.Background(), "art-1",
		domain.ArticleStatusLabeled, domain.ArticleStatusExtracted,
	)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestArticleSweepNullText(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewArticleRepository(db)

	mock.ExpectExec("UPDATE articles").
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := repo.SweepNullText(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestArticleCountStaleInStatus(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewArticleRepository(db)

	cutoff := time.Date(2026, 8, 25, 3, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT COUNT").
		WithArgs(domain.ArticleStatusExtracted, cutoff).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(9))

	n, err := repo.CountStaleInStatus(context.Background(), domain.ArticleStatusExtracted, cutoff)
	require.NoError(t, err)
	assert.Equal(t, 9, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
