package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/newspipe/internal/config"
	"github.com/jonesrussell/newspipe/internal/database"
	"github.com/jonesrussell/newspipe/internal/domain"
	"github.com/jonesrussell/newspipe/internal/extract"
	"github.com/jonesrussell/newspipe/internal/logger"
	"github.com/jonesrussell/newspipe/internal/workqueue"
)

type fakeArticleStore struct {
	insertID     string
	insertIsNew  bool
	insertErr    error
	readBackErr  error
	insertCalls  int
	lastParams   database.InsertParams
	readBackRows map[string]*domain.Article
	byURL        map[string]*domain.Article
}

func (f *fakeArticleStore) InsertIfAbsent(
	_ context.Context,
	params database.InsertParams,
) (string, bool, error) {
	f.insertCalls++
	f.lastParams = params
	return f.insertID, f.insertIsNew, f.insertErr
}

func (f *fakeArticleStore) GetByID(_ context.Context, id string) (*domain.Article, error) {
	if f.readBackErr != nil {
		return nil, f.readBackErr
	}
	if article, ok := f.readBackRows[id]; ok {
		return article, nil
	}

	return nil, database.ErrArticleNotFound
}

func (f *fakeArticleStore) GetByURL(_ context.Context, url string) (*domain.Article, error) {
	if article, ok := f.byURL[url]; ok {
		return article, nil
	}

	return nil, database.ErrArticleNotFound
}

type promotion struct {
	id, from, to string
}

type fakeCandidateStore struct {
	promotions []promotion
	hosts      []domain.HostCount
}

func (f *fakeCandidateStore) PromoteStatus(_ context.Context, id, from, to string) (bool, error) {
	f.promotions = append(f.promotions, promotion{id: id, from: from, to: to})
	return true, nil
}

func (f *fakeCandidateStore) PendingHosts(_ context.Context) ([]domain.HostCount, error) {
	return f.hosts, nil
}

type fakeChain struct {
	results map[string]*extract.Result
	errs    map[string]error
}

func (f *fakeChain) Extract(_ context.Context, url string) (*extract.Result, string, error) {
	if err, ok := f.errs[url]; ok {
		return nil, domain.ExtractionMethodReadability, err
	}
	if result, ok := f.results[url]; ok {
		return result, domain.ExtractionMethodReadability, nil
	}

	return nil, "", extract.ErrNoContent
}

type fakeWorkSource struct {
	failures []string
}

func (f *fakeWorkSource) RequestWork(
	_ context.Context, _ string, _, _ int,
) (*workqueue.WorkResponse, error) {
	return &workqueue.WorkResponse{Items: []workqueue.WorkItem{}}, nil
}

func (f *fakeWorkSource) ReportFailure(_ context.Context, _, host string) error {
	f.failures = append(f.failures, host)
	return nil
}

func workerConfig() *config.Config {
	return &config.Config{
		BatchSleepSeconds:      config.DefaultBatchSleepSeconds,
		InterRequestMinSeconds: config.DefaultInterRequestMinSeconds,
		InterRequestMaxSeconds: config.DefaultInterRequestMaxSeconds,
		CaptchaBackoffBase:     config.DefaultCaptchaBackoffBase,
		BatchSize:              config.DefaultBatchSize,
		MaxPerDomain:           config.DefaultMaxPerDomain,
	}
}

func newTestWorker(
	articles *fakeArticleStore,
	candidates *fakeCandidateStore,
	chain *fakeChain,
	source *fakeWorkSource,
) *Worker {
	w := New("w-test", workerConfig(), source, chain, articles, candidates, logger.NewNoOp())
	w.sleep = func(_ context.Context, _ time.Duration) error { return nil }

	return w
}

func TestProcessItemSilentCommitReleasesClaim(t *testing.T) {
	articles := &fakeArticleStore{insertID: "art-1", insertIsNew: true}
	candidates := &fakeCandidateStore{}
	chain := &fakeChain{results: map[string]*extract.Result{
		"https://d1.example.com/story": {Title: "Story", Text: "body"},
	}}
	w := newTestWorker(articles, candidates, chain, &fakeWorkSource{})

	item := workqueue.WorkItem{ID: "cand-1", URL: "https://d1.example.com/story", Source: "d1.example.com"}
	err := w.processItem(context.Background(), item)

	require.Error(t, err)
	require.Len(t, candidates.promotions, 1)
	assert.Equal(t, domain.CandidateStatusClaimed, candidates.promotions[0].from)
	assert.Equal(t, domain.CandidateStatusArticle, candidates.promotions[0].to,
		"claim must be released so the candidate is claimable next cycle")
}

func TestProcessItemPromotesOnSuccess(t *testing.T) {
	articles := &fakeArticleStore{
		insertID:    "art-1",
		insertIsNew: true,
		readBackRows: map[string]*domain.Article{
			"art-1": {ID: "art-1", URL: "https://d1.example.com/story"},
		},
	}
	candidates := &fakeCandidateStore{}
	chain := &fakeChain{results: map[string]*extract.Result{
		"https://d1.example.com/story": {Title: "Story", Text: "body"},
	}}
	w := newTestWorker(articles, candidates, chain, &fakeWorkSource{})

	item := workqueue.WorkItem{ID: "cand-1", URL: "https://d1.example.com/story", Source: "d1.example.com"}
	err := w.processItem(context.Background(), item)

	require.NoError(t, err)
	require.Len(t, candidates.promotions, 1)
	assert.Equal(t, domain.CandidateStatusExtracted, candidates.promotions[0].to)

	require.NotNil(t, articles.lastParams.ProxyStatus)
	assert.Equal(t, domain.ProxyStatusDisabled, *articles.lastParams.ProxyStatus)
}

func TestProcessItemSkipsExtractionWhenURLAlreadyExtracted(t *testing.T) {
	articles := &fakeArticleStore{byURL: map[string]*domain.Article{
		"https://d1.example.com/story": {
			ID:               "art-9",
			URL:              "https://d1.example.com/story",
			ExtractionMethod: domain.ExtractionMethodReadability,
		},
	}}
	candidates := &fakeCandidateStore{}
	// The chain has no result for the URL, so any extraction attempt fails.
	w := newTestWorker(articles, candidates, &fakeChain{}, &fakeWorkSource{})

	item := workqueue.WorkItem{ID: "cand-1", URL: "https://d1.example.com/story", Source: "d1.example.com"}
	err := w.processItem(context.Background(), item)

	require.NoError(t, err)
	assert.Equal(t, 0, articles.insertCalls, "no second row for an already extracted url")
	require.Len(t, candidates.promotions, 1)
	assert.Equal(t, domain.CandidateStatusExtracted, candidates.promotions[0].to)
}

func TestProcessItemURLConflictStillPromotes(t *testing.T) {
	articles := &fakeArticleStore{insertIsNew: false}
	candidates := &fakeCandidateStore{}
	chain := &fakeChain{results: map[string]*extract.Result{
		"https://d1.example.com/story": {Title: "Story", Text: "body"},
	}}
	w := newTestWorker(articles, candidates, chain, &fakeWorkSource{})

	item := workqueue.WorkItem{ID: "cand-1", URL: "https://d1.example.com/story", Source: "d1.example.com"}
	err := w.processItem(context.Background(), item)

	require.NoError(t, err)
	require.Len(t, candidates.promotions, 1)
	assert.Equal(t, domain.CandidateStatusExtracted, candidates.promotions[0].to)
}

func TestProcessBatchContinuesAfterItemFailure(t *testing.T) {
	articles := &fakeArticleStore{
		insertID:    "art-2",
		insertIsNew: true,
		readBackRows: map[string]*domain.Article{
			"art-2": {ID: "art-2"},
		},
	}
	candidates := &fakeCandidateStore{}
	chain := &fakeChain{
		results: map[string]*extract.Result{
			"https://d2.example.com/good": {Title: "Good", Text: "body"},
		},
		errs: map[string]error{
			"https://d1.example.com/bad": extract.ErrNoContent,
		},
	}
	w := newTestWorker(articles, candidates, chain, &fakeWorkSource{})

	w.processBatch(context.Background(), []workqueue.WorkItem{
		{ID: "cand-1", URL: "https://d1.example.com/bad", Source: "d1.example.com"},
		{ID: "cand-2", URL: "https://d2.example.com/good", Source: "d2.example.com"},
	})

	require.Len(t, candidates.promotions, 2)
	assert.Equal(t, domain.CandidateStatusArticle, candidates.promotions[0].to, "failed item released")
	assert.Equal(t, domain.CandidateStatusExtracted, candidates.promotions[1].to, "batch continued")
}

func TestProcessBatchBotProtectionAbortsDomain(t *testing.T) {
	articles := &fakeArticleStore{}
	candidates := &fakeCandidateStore{}
	source := &fakeWorkSource{}
	chain := &fakeChain{
		errs: map[string]error{
			"https://d1.example.com/a": extract.BotProtectionError(429, "rate limited"),
		},
	}
	w := newTestWorker(articles, candidates, chain, source)

	w.processBatch(context.Background(), []workqueue.WorkItem{
		{ID: "cand-1", URL: "https://d1.example.com/a", Source: "d1.example.com"},
		{ID: "cand-2", URL: "https://d1.example.com/b", Source: "d1.example.com"},
	})

	assert.Equal(t, []string{"d1.example.com"}, source.failures)
	// Both the failing item and the aborted remainder went back to the pool.
	require.Len(t, candidates.promotions, 2)
	for _, p := range candidates.promotions {
		assert.Equal(t, domain.CandidateStatusArticle, p.to)
	}
	assert.Equal(t, 0, articles.insertCalls)
	assert.True(t, w.captchaActive("d1.example.com"))
}

func TestCaptchaBackoffDoublesToCap(t *testing.T) {
	w := newTestWorker(&fakeArticleStore{}, &fakeCandidateStore{}, &fakeChain{}, &fakeWorkSource{})

	w.handleBotProtection(context.Background(), "d1.example.com", nil)
	assert.Equal(t, 1800*time.Second, w.captcha["d1.example.com"].current)

	w.handleBotProtection(context.Background(), "d1.example.com", nil)
	assert.Equal(t, 3600*time.Second, w.captcha["d1.example.com"].current)

	w.handleBotProtection(context.Background(), "d1.example.com", nil)
	assert.Equal(t, 7200*time.Second, w.captcha["d1.example.com"].current)

	w.handleBotProtection(context.Background(), "d1.example.com", nil)
	assert.Equal(t, 7200*time.Second, w.captcha["d1.example.com"].current, "backoff caps at two hours")
}

func TestSingleDomainClampRaisesFloors(t *testing.T) {
	candidates := &fakeCandidateStore{hosts: []domain.HostCount{{Host: "only.example.com", Count: 12}}}
	w := newTestWorker(&fakeArticleStore{}, candidates, &fakeChain{}, &fakeWorkSource{})

	require.Equal(t, 30*time.Second, w.pacing.BatchSleep)

	w.applySingleDomainClamp(context.Background())

	assert.Equal(t, 300*time.Second, w.pacing.BatchSleep)
	assert.Equal(t, 90*time.Second, w.pacing.InterRequestMin)
	assert.Equal(t, 180*time.Second, w.pacing.InterRequestMax)
}

func TestMultiDomainPoolKeepsDefaults(t *testing.T) {
	candidates := &fakeCandidateStore{hosts: []domain.HostCount{
		{Host: "a.example.com", Count: 3},
		{Host: "b.example.com", Count: 4},
	}}
	w := newTestWorker(&fakeArticleStore{}, candidates, &fakeChain{}, &fakeWorkSource{})

	w.applySingleDomainClamp(context.Background())

	assert.Equal(t, 30*time.Second, w.pacing.BatchSleep)
	assert.Equal(t, 10*time.Second, w.pacing.InterRequestMin)
}
