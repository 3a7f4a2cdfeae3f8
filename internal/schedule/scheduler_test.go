package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/newspipe/internal/domain"
)

type fakeSourceLister struct {
	sources []*domain.Source
}

func (f *fakeSourceLister) List(_ context.Context) ([]*domain.Source, error) {
	return f.sources, nil
}

func testSource(id, host, dataset string, metadata domain.JSONBMap) *domain.Source {
	if metadata == nil {
		metadata = domain.JSONBMap{}
	}
	return &domain.Source{
		ID:            id,
		Host:          host,
		CanonicalName: host,
		Dataset:       dataset,
		Metadata:      metadata,
	}
}

func TestDueSourcesNeverDiscoveredIsImmediatelyDue(t *testing.T) {
	now := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	lister := &fakeSourceLister{sources: []*domain.Source{
		testSource("s1", "a.example.com", "news", nil),
	}}

	plans, err := New(lister).DueSources(context.Background(), now, false)
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, "s1", plans[0].Source.ID)
	assert.False(t, plans[0].SkipRSS)
}

func TestDueSourcesRespectsCadence(t *testing.T) {
	now := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	lister := &fakeSourceLister{sources: []*domain.Source{
		// Discovered 2h ago with the 6h default cadence, not yet due.
		testSource("fresh", "a.example.com", "news", domain.JSONBMap{
			domain.MetaLastDiscoveredAt: domain.MetaTime(now.Add(-2 * time.Hour)),
		}),
		// Discovered 7h ago, due.
		testSource("stale", "b.example.com", "news", domain.JSONBMap{
			domain.MetaLastDiscoveredAt: domain.MetaTime(now.Add(-7 * time.Hour)),
		}),
	}}

	plans, err := New(lister).DueSources(context.Background(), now, false)
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, "stale", plans[0].Source.ID)
}

func TestDueSourcesForceAllIgnoresCadence(t *testing.T) {
	now := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	lister := &fakeSourceLister{sources: []*domain.Source{
		testSource("fresh", "a.example.com", "news", domain.JSONBMap{
			domain.MetaLastDiscoveredAt: domain.MetaTime(now.Add(-time.Hour)),
		}),
	}}

	plans, err := New(lister).DueSources(context.Background(), now, true)
	require.NoError(t, err)
	assert.Len(t, plans, 1)
}

func TestDueSourcesOrdering(t *testing.T) {
	now := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	lister := &fakeSourceLister{sources: []*domain.Source{
		testSource("later", "a.example.com", "news", domain.JSONBMap{
			domain.MetaLastDiscoveredAt: domain.MetaTime(now.Add(-7 * time.Hour)),
		}),
		testSource("tie-high-attempts", "b.example.com", "news", domain.JSONBMap{
			domain.MetaLastDiscoveredAt: domain.MetaTime(now.Add(-8 * time.Hour)),
			domain.MetaAttemptCount:     9,
		}),
		testSource("tie-low-attempts", "c.example.com", "news", domain.JSONBMap{
			domain.MetaLastDiscoveredAt: domain.MetaTime(now.Add(-8 * time.Hour)),
			domain.MetaAttemptCount:     2,
		}),
	}}

	plans, err := New(lister).DueSources(context.Background(), now, false)
	require.NoError(t, err)
	require.Len(t, plans, 3)
	assert.Equal(t, "tie-low-attempts", plans[0].Source.ID)
	assert.Equal(t, "tie-high-attempts", plans[1].Source.ID)
	assert.Equal(t, "later", plans[2].Source.ID)
}

func TestCadenceHoursOverride(t *testing.T) {
	s := New(&fakeSourceLister{})
	source := testSource("s1", "a.example.com", "news", nil)

	assert.Equal(t, DefaultCadence, s.Cadence(source, domain.SourceMeta{}))
	assert.Equal(t, 12*time.Hour, s.Cadence(source, domain.SourceMeta{CadenceHours: 12}))
}

func TestSingleDomainDatasetCadenceFloor(t *testing.T) {
	s := New(&fakeSourceLister{}, WithSingleDomainDatasets(map[string]bool{"solo": true}))

	solo := testSource("s1", "only.example.com", "solo", nil)
	multi := testSource("s2", "a.example.com", "news", nil)

	assert.Equal(t, SingleDomainCadence, s.Cadence(solo, domain.SourceMeta{}))
	assert.Equal(t, SingleDomainCadence, s.Cadence(solo, domain.SourceMeta{CadenceHours: 2}),
		"override below the floor is clamped")
	assert.Equal(t, 48*time.Hour, s.Cadence(solo, domain.SourceMeta{CadenceHours: 48}))
	assert.Equal(t, DefaultCadence, s.Cadence(multi, domain.SourceMeta{}))
}

func TestRSSAllowedGatesUntilRetryWindowElapses(t *testing.T) {
	now := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	s := New(&fakeSourceLister{})

	assert.True(t, s.RSSAllowed(domain.SourceMeta{}, now))

	recent := now.Add(-10 * 24 * time.Hour)
	assert.False(t, s.RSSAllowed(domain.SourceMeta{RSSMissing: &recent}, now))

	expired := now.Add(-31 * 24 * time.Hour)
	assert.True(t, s.RSSAllowed(domain.SourceMeta{RSSMissing: &expired}, now))
}

func TestDueSourcesSetsSkipRSSFromRetryWindow(t *testing.T) {
	now := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	lister := &fakeSourceLister{sources: []*domain.Source{
		testSource("gated", "a.example.com", "news", domain.JSONBMap{
			domain.MetaRSSMissing: domain.MetaTime(now.Add(-5 * 24 * time.Hour)),
		}),
		testSource("retry", "b.example.com", "news", domain.JSONBMap{
			domain.MetaRSSMissing: domain.MetaTime(now.Add(-31 * 24 * time.Hour)),
		}),
	}}

	plans, err := New(lister).DueSources(context.Background(), now, false)
	require.NoError(t, err)
	require.Len(t, plans, 2)

	byID := map[string]Plan{}
	for _, p := range plans {
		byID[p.Source.ID] = p
	}
	assert.True(t, byID["gated"].SkipRSS)
	assert.False(t, byID["retry"].SkipRSS, "window elapsed, RSS is retried")
}
