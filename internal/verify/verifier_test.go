package verify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/newspipe/internal/domain"
	"github.com/jonesrussell/newspipe/internal/logger"
)

type fakeCandidateStore struct {
	mu         sync.Mutex
	listed     []*domain.CandidateLink
	promotions []string // "from->to" per call
	lastErrors []string
}

func (f *fakeCandidateStore) ListByStatus(_ context.Context, _ string, _ int) ([]*domain.CandidateLink, error) {
	return f.listed, nil
}

func (f *fakeCandidateStore) PromoteStatus(_ context.Context, _, from, to string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.promotions = append(f.promotions, from+"->"+to)
	return true, nil
}

func (f *fakeCandidateStore) RecordVerifyError(_ context.Context, _, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastErrors = append(f.lastErrors, lastError)
	return nil
}

type fakeTelemetryStore struct {
	mu      sync.Mutex
	records []domain.HTTPStatusRecord
}

func (f *fakeTelemetryStore) RecordHTTPStatus(_ context.Context, record domain.HTTPStatusRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, record)
	return nil
}

type staticClassifier struct{ article bool }

func (c staticClassifier) IsArticle(string, string) bool { return c.article }

func noSleep(context.Context, time.Duration) error { return nil }

func newTestVerifier(store *fakeCandidateStore, telemetry *fakeTelemetryStore, article bool) *Verifier {
	return New(
		store,
		telemetry,
		staticClassifier{article: article},
		logger.NewNoOp(),
		WithFetchTimeout(2*time.Second),
		withSleep(noSleep),
	)
}

func candidateFor(url string) *domain.CandidateLink {
	return &domain.CandidateLink{
		ID:       "cand-1",
		SourceID: "src-1",
		URL:      url,
		Host:     "example.com",
		Status:   domain.CandidateStatusDiscovered,
	}
}

func TestVerifyOneHeadSuccessPromotesArticle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := &fakeCandidateStore{}
	telemetry := &fakeTelemetryStore{}
	v := newTestVerifier(store, telemetry, true)

	verdict := v.VerifyOne(context.Background(), candidateFor(srv.URL+"/story"))

	assert.Equal(t, VerdictArticle, verdict)
	require.Len(t, store.promotions, 1)
	assert.Equal(t, "discovered->article", store.promotions[0])
	require.Len(t, telemetry.records, 1)
	assert.Equal(t, http.MethodHead, telemetry.records[0].Method)
	assert.Equal(t, http.StatusOK, telemetry.records[0].StatusCode)
}

func TestVerifyOneFallsBackToGetWhenHeadRejected(t *testing.T) {
	var methods []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := &fakeCandidateStore{}
	telemetry := &fakeTelemetryStore{}
	v := newTestVerifier(store, telemetry, true)

	verdict := v.VerifyOne(context.Background(), candidateFor(srv.URL+"/story"))

	assert.Equal(t, VerdictArticle, verdict)
	assert.Equal(t, []string{http.MethodHead, http.MethodGet}, methods)
	require.Len(t, telemetry.records, 1)
	assert.Equal(t, http.MethodGet, telemetry.records[0].Method)
}

func TestVerifyOneNotArticleShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := &fakeCandidateStore{}
	v := newTestVerifier(store, &fakeTelemetryStore{}, false)

	verdict := v.VerifyOne(context.Background(), candidateFor(srv.URL+"/tag/politics"))

	assert.Equal(t, VerdictNotArticle, verdict)
	require.Len(t, store.promotions, 1)
	assert.Equal(t, "discovered->not_article", store.promotions[0])
}

func TestVerifyOneGonePromotesNotArticleWithoutRetry(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	store := &fakeCandidateStore{}
	v := newTestVerifier(store, &fakeTelemetryStore{}, true)

	verdict := v.VerifyOne(context.Background(), candidateFor(srv.URL+"/gone"))

	assert.Equal(t, VerdictNotArticle, verdict)
	assert.Equal(t, 1, hits, "404 is a definitive verdict, no retries")
}

func TestVerifyOneServerErrorRetriesThenFails(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := &fakeCandidateStore{}
	v := newTestVerifier(store, &fakeTelemetryStore{}, true)

	verdict := v.VerifyOne(context.Background(), candidateFor(srv.URL+"/flaky"))

	assert.Equal(t, VerdictFailed, verdict)
	assert.Equal(t, MaxAttempts, hits)
	require.Len(t, store.promotions, 1)
	assert.Equal(t, "discovered->verify_failed", store.promotions[0])
	require.Len(t, store.lastErrors, 1)
	assert.Contains(t, store.lastErrors[0], "probe status 500")
}

type refusingTransport struct{ calls int }

func (t *refusingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	t.calls++
	return nil, errors.New("dial tcp: connection refused")
}

func TestVerifyOneNetworkErrorStillRecordsTelemetry(t *testing.T) {
	transport := &refusingTransport{}
	store := &fakeCandidateStore{}
	telemetry := &fakeTelemetryStore{}
	v := New(
		store,
		telemetry,
		staticClassifier{article: true},
		logger.NewNoOp(),
		WithFetchTimeout(2*time.Second),
		WithHTTPClient(&http.Client{Transport: transport}),
		withSleep(noSleep),
	)

	verdict := v.VerifyOne(context.Background(), candidateFor("https://down.example.com/story"))

	assert.Equal(t, VerdictFailed, verdict)
	assert.Equal(t, MaxAttempts, transport.calls)

	// Every probe leaves a row even when no response ever arrived.
	require.Len(t, telemetry.records, MaxAttempts)
	for _, record := range telemetry.records {
		assert.Equal(t, 0, record.StatusCode)
		assert.Equal(t, http.MethodHead, record.Method)
	}

	require.Len(t, store.promotions, 1)
	assert.Equal(t, "discovered->verify_failed", store.promotions[0])
	require.Len(t, store.lastErrors, 1)
	assert.Contains(t, store.lastErrors[0], "connection refused")
}

func TestRunBatchCountsArticles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := &fakeCandidateStore{listed: []*domain.CandidateLink{
		candidateFor(srv.URL + "/a"),
		candidateFor(srv.URL + "/b"),
	}}
	v := newTestVerifier(store, &fakeTelemetryStore{}, true)

	verified, err := v.RunBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, verified)
	assert.Len(t, store.promotions, 2)
}
