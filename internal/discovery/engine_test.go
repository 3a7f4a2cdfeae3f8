package discovery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/newspipe/internal/domain"
	"github.com/jonesrussell/newspipe/internal/logger"
	"github.com/jonesrussell/newspipe/internal/schedule"
)

type stubMethod struct {
	name   string
	links  []string
	result AttemptResult
	calls  int
}

func (m *stubMethod) Name() string { return m.name }

func (m *stubMethod) Discover(context.Context, *domain.Source, domain.SourceMeta) ([]string, AttemptResult) {
	m.calls++
	return m.links, m.result
}

type memCandidateStore struct {
	byURL   map[string]string
	upserts int
}

func newMemCandidateStore() *memCandidateStore {
	return &memCandidateStore{byURL: map[string]string{}}
}

func (s *memCandidateStore) Upsert(_ context.Context, url, _, _ string) (string, bool, error) {
	s.upserts++
	if id, ok := s.byURL[url]; ok {
		return id, false, nil
	}
	id := url
	s.byURL[url] = id
	return id, true, nil
}

type memMetaStore struct {
	patches []domain.MetaPatch
}

func (s *memMetaStore) UpdateMeta(_ context.Context, _ string, patch domain.MetaPatch) error {
	s.patches = append(s.patches, patch)
	return nil
}

type memTelemetryStore struct {
	attempts      []domain.MethodAttempt
	outcomes      []domain.DiscoveryOutcome
	effectiveness []*domain.MethodEffectiveness
}

func (s *memTelemetryStore) RecordMethodAttempt(_ context.Context, attempt domain.MethodAttempt) error {
	s.attempts = append(s.attempts, attempt)
	return nil
}

func (s *memTelemetryStore) RecordOutcome(_ context.Context, outcome domain.DiscoveryOutcome) error {
	s.outcomes = append(s.outcomes, outcome)
	return nil
}

func (s *memTelemetryStore) MethodEffectivenessBySource(
	context.Context, string,
) ([]*domain.MethodEffectiveness, error) {
	return s.effectiveness, nil
}

func planFor(skipRSS bool) schedule.Plan {
	return schedule.Plan{
		Source: &domain.Source{
			ID:            "src-1",
			Host:          "example.com",
			CanonicalName: "Example News",
			Dataset:       "news",
			Metadata:      domain.JSONBMap{},
		},
		SkipRSS: skipRSS,
	}
}

func newTestEngine(
	methods []Method,
	candidates *memCandidateStore,
	meta *memMetaStore,
	telemetry *memTelemetryStore,
) *Engine {
	return NewEngine(methods, candidates, meta, telemetry, NewRSSBookkeeper(), logger.NewNoOp())
}

func TestRunSourceShortCircuitsOnFirstSuccess(t *testing.T) {
	rss := &stubMethod{
		name:   domain.MethodRSSFeed,
		links:  []string{"https://example.com/a", "https://example.com/b"},
		result: AttemptResult{Status: domain.DiscoveryStatusSuccess, StatusCode: 200},
	}
	template := &stubMethod{name: domain.MethodTemplateParser}

	candidates := newMemCandidateStore()
	meta := &memMetaStore{}
	telemetry := &memTelemetryStore{}
	engine := newTestEngine([]Method{rss, template}, candidates, meta, telemetry)

	report, err := engine.RunSource(context.Background(), planFor(false))
	require.NoError(t, err)

	assert.Equal(t, domain.MethodRSSFeed, report.Method)
	assert.Equal(t, 2, report.LinksFound)
	assert.Equal(t, 2, report.LinksInserted)
	assert.Equal(t, 0, template.calls, "later methods skipped after a success")
	require.Len(t, telemetry.attempts, 1)
	require.Len(t, telemetry.outcomes, 1)
	assert.Equal(t, 2, telemetry.outcomes[0].LinksInserted)
}

func TestRunSourceFallsThroughToNextMethod(t *testing.T) {
	rss := &stubMethod{
		name:   domain.MethodRSSFeed,
		result: AttemptResult{Status: domain.DiscoveryStatusNoFeed, StatusCode: 404},
	}
	template := &stubMethod{
		name:   domain.MethodTemplateParser,
		links:  []string{"https://example.com/story"},
		result: AttemptResult{Status: domain.DiscoveryStatusSuccess, StatusCode: 200},
	}

	candidates := newMemCandidateStore()
	meta := &memMetaStore{}
	telemetry := &memTelemetryStore{}
	engine := newTestEngine([]Method{rss, template}, candidates, meta, telemetry)

	report, err := engine.RunSource(context.Background(), planFor(false))
	require.NoError(t, err)

	assert.Equal(t, domain.MethodTemplateParser, report.Method)
	assert.Equal(t, domain.DiscoveryStatusSuccess, report.Status)
	require.Len(t, telemetry.attempts, 2)

	// The failed RSS attempt updated the bookkeeping fields; the final patch
	// records the template win as the last successful method.
	require.NotEmpty(t, meta.patches)
	final := meta.patches[len(meta.patches)-1]
	assert.Equal(t, domain.MethodTemplateParser, final[domain.MetaLastSuccessfulMethod])
}

func TestRunSourceSkipRSSRecordsSkippedAttempt(t *testing.T) {
	rss := &stubMethod{name: domain.MethodRSSFeed}
	template := &stubMethod{
		name:   domain.MethodTemplateParser,
		links:  []string{"https://example.com/story"},
		result: AttemptResult{Status: domain.DiscoveryStatusSuccess, StatusCode: 200},
	}

	candidates := newMemCandidateStore()
	meta := &memMetaStore{}
	telemetry := &memTelemetryStore{}
	engine := newTestEngine([]Method{rss, template}, candidates, meta, telemetry)

	_, err := engine.RunSource(context.Background(), planFor(true))
	require.NoError(t, err)

	assert.Equal(t, 0, rss.calls, "gated RSS method is never invoked")
	require.Len(t, telemetry.attempts, 2)
	assert.Equal(t, domain.DiscoveryStatusSkipped, telemetry.attempts[0].Status)

	// A skipped attempt must not touch the RSS bookkeeping fields.
	for _, patch := range meta.patches {
		assert.NotContains(t, patch, domain.MetaRSSConsecutiveFailures)
	}
}

func TestInsertLinksDedupesAndNormalizes(t *testing.T) {
	rss := &stubMethod{
		name: domain.MethodRSSFeed,
		links: []string{
			"https://example.com/story?utm_source=rss",
			"https://EXAMPLE.com/story",
			"https://example.com/other",
			"not a url",
		},
		result: AttemptResult{Status: domain.DiscoveryStatusSuccess, StatusCode: 200},
	}

	candidates := newMemCandidateStore()
	engine := newTestEngine([]Method{rss}, candidates, &memMetaStore{}, &memTelemetryStore{})

	report, err := engine.RunSource(context.Background(), planFor(false))
	require.NoError(t, err)

	assert.Equal(t, 4, report.LinksFound)
	assert.Equal(t, 2, report.LinksInserted, "duplicates and junk do not count")
	assert.Equal(t, 3, candidates.upserts, "the unparseable link never reaches the store")
}

func TestRunSourceOrdersFallbacksByEffectiveness(t *testing.T) {
	rss := &stubMethod{
		name:   domain.MethodRSSFeed,
		result: AttemptResult{Status: domain.DiscoveryStatusNoFeed, StatusCode: 404},
	}
	template := &stubMethod{name: domain.MethodTemplateParser}
	homepage := &stubMethod{
		name:   domain.MethodHomepageClassifier,
		links:  []string{"https://example.com/story"},
		result: AttemptResult{Status: domain.DiscoveryStatusSuccess, StatusCode: 200},
	}

	telemetry := &memTelemetryStore{effectiveness: []*domain.MethodEffectiveness{
		{Method: domain.MethodTemplateParser, SuccessRate: 0.1, AttemptCount: 10},
		{Method: domain.MethodHomepageClassifier, SuccessRate: 0.9, AttemptCount: 10},
	}}
	engine := newTestEngine([]Method{rss, template, homepage}, newMemCandidateStore(), &memMetaStore{}, telemetry)

	report, err := engine.RunSource(context.Background(), planFor(false))
	require.NoError(t, err)

	// The historically stronger fallback runs before the weaker one, so the
	// weaker one is never reached.
	assert.Equal(t, domain.MethodHomepageClassifier, report.Method)
	assert.Equal(t, 1, rss.calls, "rss keeps its priority slot")
	assert.Equal(t, 0, template.calls)
}

func TestRunSourceNoEffectivenessKeepsConfiguredOrder(t *testing.T) {
	rss := &stubMethod{
		name:   domain.MethodRSSFeed,
		result: AttemptResult{Status: domain.DiscoveryStatusNoFeed, StatusCode: 404},
	}
	template := &stubMethod{
		name:   domain.MethodTemplateParser,
		links:  []string{"https://example.com/story"},
		result: AttemptResult{Status: domain.DiscoveryStatusSuccess, StatusCode: 200},
	}
	homepage := &stubMethod{name: domain.MethodHomepageClassifier}

	engine := newTestEngine(
		[]Method{rss, template, homepage},
		newMemCandidateStore(), &memMetaStore{}, &memTelemetryStore{},
	)

	report, err := engine.RunSource(context.Background(), planFor(false))
	require.NoError(t, err)

	assert.Equal(t, domain.MethodTemplateParser, report.Method)
	assert.Equal(t, 0, homepage.calls)
}

func TestRunSourceRSSSuccessStoresConditionalGetHints(t *testing.T) {
	rss := &stubMethod{
		name:  domain.MethodRSSFeed,
		links: []string{"https://example.com/story"},
		result: AttemptResult{
			Status:       domain.DiscoveryStatusSuccess,
			StatusCode:   200,
			ETag:         `"abc123"`,
			LastModified: "Tue, 25 Aug 2026 10:00:00 GMT",
		},
	}

	meta := &memMetaStore{}
	engine := newTestEngine([]Method{rss}, newMemCandidateStore(), meta, &memTelemetryStore{})

	_, err := engine.RunSource(context.Background(), planFor(false))
	require.NoError(t, err)

	require.NotEmpty(t, meta.patches)
	bookkeeping := meta.patches[0]
	assert.Equal(t, `"abc123"`, bookkeeping[domain.MetaFeedETag])
	assert.Equal(t, "Tue, 25 Aug 2026 10:00:00 GMT", bookkeeping[domain.MetaFeedLastModified])
	assert.Equal(t, domain.MethodRSSFeed, bookkeeping[domain.MetaLastSuccessfulMethod])
}
