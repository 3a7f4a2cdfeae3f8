package database

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/newspipe/internal/domain"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return sqlx.NewDb(db, "sqlmock"), mock
}

func TestCandidateUpsertInsertsNewRow(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCandidateRepository(db)

	mock.ExpectQuery("INSERT INTO candidate_links").
		WithArgs(sqlmock.AnyArg(), "src-1", "https://example.com/story", "example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("cand-1"))

	id, inserted, err := repo.Upsert(context.Background(), "https://example.com/story", "example.com", "src-1")
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, "cand-1", id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCandidateUpsertConflictReturnsExistingID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCandidateRepository(db)

	// ON CONFLICT DO NOTHING returns no rows; the follow-up select finds the
	// existing row.
	mock.ExpectQuery("INSERT INTO candidate_links").
		WithArgs(sqlmock.AnyArg(), "src-1", "https://example.com/story", "example.com").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT id FROM candidate_links WHERE url").
		WithArgs("https://example.com/story").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("cand-existing"))

	id, inserted, err := repo.Upsert(context.Background(), "https://example.com/story", "example.com", "src-1")
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, "cand-existing", id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCandidatePromoteStatusUpdatesMatchingRow(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCandidateRepository(db)

	mock.ExpectExec("UPDATE candidate_links").
		WithArgs("cand-1", domain.CandidateStatusDiscovered, domain.CandidateStatusVerified).
		WillReturnResult(sqlmock.NewResult(0, 1))

	updated, err := repo.PromoteStatus(
		context.Background(), "cand-1",
		domain.CandidateStatusDiscovered, domain.CandidateStatusVerified,
	)
	require.NoError(t, err)
	assert.True(t, updated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCandidatePromoteStatusLostRace(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCandidateRepository(db)

	mock.ExpectExec("UPDATE candidate_links").
		WithArgs("cand-1", domain.CandidateStatusArticle, domain.CandidateStatusClaimed).
		WillReturnResult(sqlmock.NewResult(0, 0))

	updated, err := repo.PromoteStatus(
		context.Background(), "cand-1",
		domain.CandidateStatusArticle, domain.CandidateStatusClaimed,
	)
	require.NoError(t, err)
	assert.False(t, updated, "another claimer already moved the row")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCandidatePromoteStatusRejectsInvalidTransition(t *testing.T) {
	db, _ := newMockDB(t)
	repo := NewCandidateRepository(db)

	// Rejected before any SQL executes; no expectations registered.
	_, err := repo.PromoteStatus(
		context.Background(), "cand-1",
		domain.CandidateStatusExtracted, domain.CandidateStatusDiscovered,
	)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestBatchClaimForExtractionClaimsInsideTransaction(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCandidateRepository(db)

	hosts := []string{"a.example.com", "b.example.com"}
	discoveredAt := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{
		"id", "source_id", "url", "host", "status", "discovered_at",
		"verified_at", "claimed_at", "error_count", "last_error", "created_at", "updated_at",
	}).
		AddRow("c1", "s1", "https://a.example.com/1", "a.example.com", "article",
			discoveredAt, nil, nil, 0, nil, discoveredAt, discoveredAt).
		AddRow("c2", "s1", "https://b.example.com/1", "b.example.com", "article",
			discoveredAt, nil, nil, 0, nil, discoveredAt, discoveredAt)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM candidate_links").
		WithArgs(pq.Array(hosts), 20).
		WillReturnRows(rows)
	mock.ExpectExec("UPDATE candidate_links").
		WithArgs(pq.Array([]string{"c1", "c2"})).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	claimed, err := repo.BatchClaimForExtraction(context.Background(), hosts, 10, 3)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, domain.CandidateStatusClaimed, claimed[0].Status)
	assert.NotNil(t, claimed[0].ClaimedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBatchClaimForExtractionNoHostsIsNoOp(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCandidateRepository(db)

	claimed, err := repo.BatchClaimForExtraction(context.Background(), nil, 10, 3)
	require.NoError(t, err)
	assert.Empty(t, claimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCapPerDomain(t *testing.T) {
	link := func(id, host string) *domain.CandidateLink {
		return &domain.CandidateLink{ID: id, Host: host}
	}
	links := []*domain.CandidateLink{
		link("a1", "a.example.com"),
		link("a2", "a.example.com"),
		link("a3", "a.example.com"),
		link("a4", "a.example.com"),
		link("b1", "b.example.com"),
		link("b2", "b.example.com"),
	}

	out := capPerDomain(links, 10, 3)
	require.Len(t, out, 5)
	assert.Equal(t, "a3", out[2].ID, "fourth row on the host is skipped")
	assert.Equal(t, "b1", out[3].ID)

	out = capPerDomain(links, 2, 3)
	assert.Len(t, out, 2, "overall limit still applies")
}

func TestPendingHosts(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCandidateRepository(db)

	mock.ExpectQuery("SELECT host, COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"host", "count"}).
			AddRow("a.example.com", 12).
			AddRow("b.example.com", 3))

	hosts, err := repo.PendingHosts(context.Background())
	require.NoError(t, err)
	require.Len(t, hosts, 2)
	assert.Equal(t, domain.HostCount{Host: "a.example.com", Count: 12}, hosts[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExpireStaleReturnsAffectedCount(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCandidateRepository(db)

	cutoff := time.Date(2026, 8, 13, 3, 0, 0, 0, time.UTC)
	mock.ExpectExec("UPDATE candidate_links").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := repo.ExpireStale(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSingleDomainDatasetsFlagsOneHostPools(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCandidateRepository(db)

	rows := sqlmock.NewRows([]string{"dataset"}).
		AddRow("smalltown").
		AddRow("village")
	mock.ExpectQuery(`HAVING COUNT\(DISTINCT c\.host\) = 1`).
		WillReturnRows(rows)

	datasets, err := repo.SingleDomainDatasets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"smalltown": true, "village": true}, datasets)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSingleDomainDatasetsEmptyPool(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCandidateRepository(db)

	mock.ExpectQuery(`HAVING COUNT\(DISTINCT c\.host\) = 1`).
		WillReturnRows(sqlmock.NewRows([]string{"dataset"}))

	datasets, err := repo.SingleDomainDatasets(context.Background())
	require.NoError(t, err)
	assert.Empty(t, datasets)
	assert.NoError(t, mock.ExpectationsWereMet())
}
