package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/itsneelabh/ordregistry/core"
)

func TestEngine_NotBuilt(t *testing.T) {
	e, _ := newTestEngine(t, core.NewMemoryStore())
	ctx := context.Background()

	assert.False(t, e.Ready())
	assert.Nil(t, e.Snapshot())

	_, err := e.Stats(ctx)
	assert.ErrorIs(t, err, core.ErrCacheNotBuilt)
	_, err = e.ValidateAll(ctx)
	assert.ErrorIs(t, err, core.ErrCacheNotBuilt)
	_, err = e.Validate(ctx, "x")
	assert.ErrorIs(t, err, core.ErrCacheNotBuilt)
	_, err = e.RefreshMetadata(ctx)
	assert.ErrorIs(t, err, core.ErrCacheNotBuilt)
	_, err = e.Cleanup(ctx)
	assert.ErrorIs(t, err, core.ErrCacheNotBuilt)
}

func TestEngine_RoundTrip(t *testing.T) {
	r1 := compliantResource("R1", "quote-lookup")
	r1.Dependencies = []string{"R2"}
	r2 := compliantResource("R2", "pricing")

	e, _ := newTestEngine(t, core.NewMemoryStore())
	ctx := context.Background()
	require.NoError(t, e.Register(ctx, r1))
	require.NoError(t, e.Register(ctx, r2))

	snap, err := e.Rebuild(ctx)
	require.NoError(t, err)

	entry, ok := snap.Index().Lookup("quote-lookup")
	require.True(t, ok)
	require.Len(t, entry.Providers, 1)
	assert.Equal(t, "R1", entry.Providers[0].ResourceID)

	n1, _ := snap.Graph().Node("R1")
	n2, _ := snap.Graph().Node("R2")
	assert.Equal(t, 1, n1.Depth)
	assert.Equal(t, 0, n2.Depth)
	assert.Equal(t, []string{"R1"}, n2.Dependents)
}

func TestEngine_IdempotentRebuild(t *testing.T) {
	e, _ := newTestEngine(t, discoveryFixture(t))
	ctx := context.Background()

	first, err := e.Rebuild(ctx)
	require.NoError(t, err)
	second, err := e.Rebuild(ctx)
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Equal(t, first.Generation+1, second.Generation)
	assert.Equal(t, first.ResourceIDs(), second.ResourceIDs())
	for _, id := range first.ResourceIDs() {
		a, _ := first.Resource(id)
		b, _ := second.Resource(id)
		assert.Equal(t, a, b, id)
	}
	assert.Equal(t, first.Index().Entries(), second.Index().Entries())
	assert.Equal(t, first.Graph().Nodes(), second.Graph().Nodes())
	assert.Equal(t, first.Graph().Metrics(), second.Graph().Metrics())
}

func TestEngine_IdempotentRebuildProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		store := core.NewMemoryStore()
		n := rapid.IntRange(0, 6).Draw(rt, "resources")
		ids := make([]string, n)
		for i := range ids {
			ids[i] = fmt.Sprintf("r%d", i)
		}
		for _, id := range ids {
			r := compliantResource(id, rapid.SliceOfN(rapid.SampledFrom([]string{"a", "b", "c"}), 1, 3).Draw(rt, "caps-"+id)...)
			if len(ids) > 0 {
				r.Dependencies = rapid.SliceOfN(rapid.SampledFrom(ids), 0, 3).Draw(rt, "deps-"+id)
			}
			if err := store.UpsertResource(context.Background(), r); err != nil {
				rt.Fatalf("upsert: %v", err)
			}
		}

		clock := newTestClock()
		e := NewEngine(store, testConfig(), WithClock(clock.Now))
		a, _ := e.Rebuild(context.Background())
		b, _ := e.Rebuild(context.Background())

		if fmt.Sprint(a.Index().Entries()) != fmt.Sprint(b.Index().Entries()) {
			rt.Fatalf("index differs between rebuilds")
		}
		if fmt.Sprint(a.Graph().Nodes()) != fmt.Sprint(b.Graph().Nodes()) {
			rt.Fatalf("graph differs between rebuilds")
		}
	})
}

func TestEngine_GracefulDegradation(t *testing.T) {
	store := &flakyStore{ResourceStore: discoveryFixture(t)}
	store.set(false, true)
	e, _ := newTestEngine(t, store)

	snap, err := e.Rebuild(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, snap.Len(), "all store resources, none of the agent-only ones")
	assert.Equal(t, []string{SourceAgentRecords}, snap.Degraded)

	resp, err := e.Discover(context.Background(), Query{Type: DiscoverResources})
	require.NoError(t, err)
	assert.Equal(t, []string{SourceAgentRecords}, resp.Metadata.Degraded)
}

func TestEngine_ComplianceScenario(t *testing.T) {
	r := compliantResource("R1", "quote-lookup")
	r.Capabilities = nil
	store := seededStore(t, r)
	e, _ := newTestEngine(t, store)
	ctx := context.Background()

	_, err := e.Rebuild(ctx)
	require.NoError(t, err)
	report, err := e.Validate(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, report.NonCompliant)
	require.NotEmpty(t, report.Issues["R1"])
	assert.Contains(t, report.Issues["R1"][0], "capabilities")
	assert.Same(t, report, e.LastReport())

	fixed := compliantResource("R1", "quote-lookup")
	require.NoError(t, store.UpsertResource(ctx, fixed))
	_, err = e.Rebuild(ctx)
	require.NoError(t, err)

	got, _ := e.Snapshot().Resource("R1")
	assert.Equal(t, core.CompliancePending, got.ComplianceStatus, "changed records are revalidated")

	report, err = e.ValidateAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Compliant)
	assert.Empty(t, report.Issues)
}

func TestEngine_ValidationDeterminism(t *testing.T) {
	e := builtEngine(t)
	ctx := context.Background()

	first, err := e.ValidateAll(ctx)
	require.NoError(t, err)
	second, err := e.ValidateAll(ctx)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.Compliant, second.Compliant)
	assert.Equal(t, first.Issues, second.Issues)
}

func TestEngine_ValidateSingle(t *testing.T) {
	e := builtEngine(t)
	ctx := context.Background()

	report, err := e.Validate(ctx, "catalog")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Total)
	assert.Equal(t, []string{IssueMissingCompliance}, report.Issues["catalog"])
	assert.Nil(t, e.LastReport(), "single validation does not replace the full report")

	snap := e.Snapshot()
	catalog, _ := snap.Resource("catalog")
	assert.Equal(t, core.ComplianceNonCompliant, catalog.ComplianceStatus)
	quotes, _ := snap.Resource("quotes")
	assert.Equal(t, core.CompliancePending, quotes.ComplianceStatus, "other resources are untouched")
	assert.Nil(t, quotes.LastValidatedAt)

	_, err = e.Validate(ctx, "ghost")
	assert.True(t, core.IsNotFound(err))
}

func TestEngine_ComplianceCarriesOverUnchangedRecords(t *testing.T) {
	e := builtEngine(t)
	ctx := context.Background()
	_, err := e.ValidateAll(ctx)
	require.NoError(t, err)

	_, err = e.Rebuild(ctx)
	require.NoError(t, err)

	quotes, _ := e.Snapshot().Resource("quotes")
	assert.Equal(t, core.ComplianceCompliant, quotes.ComplianceStatus)
	assert.NotNil(t, quotes.LastValidatedAt)
}

func TestEngine_Stats(t *testing.T) {
	e := builtEngine(t)
	ctx := context.Background()
	_, err := e.ValidateAll(ctx)
	require.NoError(t, err)

	stats, err := e.Stats(ctx)
	require.NoError(t, err)

	assert.Equal(t, 5, stats.TotalResources)
	assert.Equal(t, 2, stats.ActiveAgents)
	assert.Equal(t, 2, stats.FunctionEndpoints)
	assert.Equal(t, 0.6, stats.ComplianceRatio)
	assert.Equal(t, 0.6, stats.RegistryHealth.ActiveRatio, "quotes, pricing and live are active")
	assert.Equal(t, 0.6, stats.RegistryHealth.OverallScore)
	assert.Equal(t, ComplianceSummary{Total: 5, Compliant: 3, NonCompliant: 2, CompliancePercentage: 60}, stats.ComplianceSummary)
	assert.Equal(t, CapabilityCoverage{TotalCapabilities: 4, WellCovered: 1, CoverageRatio: 0.25}, stats.CapabilityCoverage)
	assert.Equal(t, 2, stats.DependencyMetrics.MaxDepth)
}

func TestEngine_StatsEmptyCatalog(t *testing.T) {
	e, _ := newTestEngine(t, core.NewMemoryStore())
	_, err := e.Rebuild(context.Background())
	require.NoError(t, err)

	stats, err := e.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.ComplianceRatio)
	assert.Zero(t, stats.RegistryHealth.OverallScore)
	assert.Zero(t, stats.CapabilityCoverage.CoverageRatio)
	assert.Zero(t, stats.DependencyMetrics.AvgDepth)
}

func TestEngine_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects invalid resources", func(t *testing.T) {
		e, _ := newTestEngine(t, core.NewMemoryStore())
		for _, r := range []*core.Resource{nil, {Kind: core.KindAgent}, {ID: "x", Kind: "widget"}} {
			err := e.Register(ctx, r)
			assert.ErrorIs(t, err, core.ErrInvalidResource)
			assert.True(t, core.IsClientError(err))
		}
	})

	t.Run("reports store failure", func(t *testing.T) {
		store := &flakyStore{ResourceStore: core.NewMemoryStore(), upsertErr: fmt.Errorf("write: %w", core.ErrStoreUnavailable)}
		e, _ := newTestEngine(t, store)
		err := e.Register(ctx, compliantResource("a", "x"))
		assert.ErrorIs(t, err, core.ErrStoreUnavailable)
	})

	t.Run("visible after rebuild", func(t *testing.T) {
		e, _ := newTestEngine(t, core.NewMemoryStore())
		_, err := e.Rebuild(ctx)
		require.NoError(t, err)

		require.NoError(t, e.Register(ctx, compliantResource("a", "x")))
		_, ok := e.Snapshot().Resource("a")
		assert.False(t, ok)

		_, err = e.Rebuild(ctx)
		require.NoError(t, err)
		_, ok = e.Snapshot().Resource("a")
		assert.True(t, ok)
	})

	t.Run("rebuild on register", func(t *testing.T) {
		e, _ := newTestEngine(t, core.NewMemoryStore(), WithRebuildOnRegister(true))
		require.NoError(t, e.Register(ctx, compliantResource("a", "x")))
		_, ok := e.Snapshot().Resource("a")
		assert.True(t, ok)
	})
}

func TestNeedsMetadataRefresh(t *testing.T) {
	old := testNow.Add(-2 * time.Minute)
	recent := testNow.Add(-10 * time.Second)

	assert.True(t, NeedsMetadataRefresh(&core.Resource{}, testNow, time.Minute))
	assert.True(t, NeedsMetadataRefresh(&core.Resource{LastValidatedAt: &old}, testNow, time.Minute))
	assert.False(t, NeedsMetadataRefresh(&core.Resource{LastValidatedAt: &recent}, testNow, time.Minute))
	assert.False(t, NeedsMetadataRefresh(&core.Resource{LastValidatedAt: &old, LastRefreshedAt: &recent}, testNow, time.Minute))
}

func TestEngine_RefreshMetadata(t *testing.T) {
	store := discoveryFixture(t)
	e, clock := newTestEngine(t, store)
	ctx := context.Background()
	_, err := e.Rebuild(ctx)
	require.NoError(t, err)
	graph := e.Snapshot().Graph()

	store.PutAgentRecord(&core.AgentRecord{AgentID: "live", AgentType: "sentiment", Status: core.StatusInactive, LastSeenAt: testNow})

	res, err := e.RefreshMetadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Checked)
	assert.Equal(t, 5, res.Refreshed)

	snap := e.Snapshot()
	live, _ := snap.Resource("live")
	assert.Equal(t, core.StatusInactive, live.Status)
	assert.Equal(t, testNow, live.LastSeenAt)
	require.NotNil(t, live.LastRefreshedAt)
	assert.Same(t, graph, snap.Graph(), "the graph is reused")

	price, _ := snap.Index().Lookup("price")
	for _, p := range price.Providers {
		if p.ResourceID == "live" {
			assert.Equal(t, 0.6, p.Confidence, "confidence follows the refreshed status")
		}
	}

	res, err = e.RefreshMetadata(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Refreshed, "nothing is due within the interval")

	clock.Advance(2 * time.Minute)
	res, err = e.RefreshMetadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Refreshed)
}

// listingOnlyStore hides the optional store interfaces of the wrapped store.
type listingOnlyStore struct {
	core.ResourceStore
}

func TestEngine_RefreshMetadataFromListings(t *testing.T) {
	mem := discoveryFixture(t)
	e, _ := newTestEngine(t, listingOnlyStore{mem})
	ctx := context.Background()
	_, err := e.Rebuild(ctx)
	require.NoError(t, err)

	mem.PutAgentRecord(&core.AgentRecord{AgentID: "quotes", Status: core.StatusInactive, LastSeenAt: testNow})
	_, err = e.RefreshMetadata(ctx)
	require.NoError(t, err)

	quotes, _ := e.Snapshot().Resource("quotes")
	assert.Equal(t, core.StatusInactive, quotes.Status)
	assert.Equal(t, testNow, quotes.LastSeenAt)
}

func TestEngine_RefreshMetadataStoreFailure(t *testing.T) {
	store := &flakyStore{ResourceStore: discoveryFixture(t)}
	e, _ := newTestEngine(t, listingOnlyStore{store})
	ctx := context.Background()
	_, err := e.Rebuild(ctx)
	require.NoError(t, err)
	before := e.Snapshot()

	store.set(true, false)
	_, err = e.RefreshMetadata(ctx)
	assert.ErrorIs(t, err, core.ErrStoreUnavailable)
	assert.Same(t, before, e.Snapshot())
}

func TestEngine_Cleanup(t *testing.T) {
	stale := compliantResource("stale", "old")
	stale.Status = core.StatusInactive
	stale.LastSeenAt = testNow.Add(-8 * 24 * time.Hour)

	staleActive := compliantResource("stale-active", "old")
	staleActive.LastSeenAt = testNow.Add(-8 * 24 * time.Hour)

	neverSeen := compliantResource("never-seen", "old")
	neverSeen.Status = ""
	neverSeen.LastSeenAt = time.Time{}

	consumer := compliantResource("consumer", "new")
	consumer.Dependencies = []string{"stale"}

	store := seededStore(t, stale, staleActive, neverSeen, consumer)
	e, _ := newTestEngine(t, store)
	ctx := context.Background()
	_, err := e.Rebuild(ctx)
	require.NoError(t, err)

	res, err := e.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"stale"}, res.Marked)
	assert.Empty(t, res.Swept)
	assert.True(t, store.IsMarked("stale"))
	r, _ := e.Snapshot().Resource("stale")
	assert.True(t, r.MarkedForCleanup)

	// The mark survives a rebuild while the resource stays stale.
	_, err = e.Rebuild(ctx)
	require.NoError(t, err)

	res, err = e.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"stale"}, res.Swept)
	assert.Equal(t, 3, res.Remaining)

	snap := e.Snapshot()
	_, ok := snap.Resource("stale")
	assert.False(t, ok)
	n, _ := snap.Graph().Node("consumer")
	assert.Equal(t, []string{"stale"}, n.Dangling)

	_, err = e.Rebuild(ctx)
	require.NoError(t, err)
	_, ok = e.Snapshot().Resource("stale")
	assert.False(t, ok, "swept resources stay out of rebuilds")

	store.PutAgentRecord(&core.AgentRecord{AgentID: "stale", Status: core.StatusActive, LastSeenAt: testNow})
	_, err = e.Rebuild(ctx)
	require.NoError(t, err)
	_, ok = e.Snapshot().Resource("stale")
	assert.True(t, ok, "a resource seen again comes back")
}

func TestEngine_TombstoneReleasedWhenUpstreamDeletes(t *testing.T) {
	stale := compliantResource("stale", "old")
	stale.Status = core.StatusInactive
	stale.LastSeenAt = testNow.Add(-8 * 24 * time.Hour)
	mem := seededStore(t, stale, compliantResource("keep", "new"))
	store := &flakyStore{ResourceStore: mem}

	e, _ := newTestEngine(t, store)
	ctx := context.Background()
	_, err := e.Rebuild(ctx)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = e.Cleanup(ctx)
		require.NoError(t, err)
	}
	require.Contains(t, e.tombstones, "stale")

	mem.DeleteResource("stale")

	// A partial build cannot tell a deletion from a missing source.
	store.set(false, true)
	snap, err := e.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{SourceAgentRecords}, snap.Degraded)
	assert.Contains(t, e.tombstones, "stale")

	store.set(false, false)
	_, err = e.Rebuild(ctx)
	require.NoError(t, err)
	assert.NotContains(t, e.tombstones, "stale")
	_, ok := e.Snapshot().Resource("keep")
	assert.True(t, ok)
}

func TestEngine_CleanupUnmarksRecovered(t *testing.T) {
	stale := compliantResource("stale", "old")
	stale.Status = core.StatusInactive
	stale.LastSeenAt = testNow.Add(-8 * 24 * time.Hour)
	store := seededStore(t, stale)

	e, _ := newTestEngine(t, store)
	ctx := context.Background()
	_, err := e.Rebuild(ctx)
	require.NoError(t, err)
	_, err = e.Cleanup(ctx)
	require.NoError(t, err)

	store.PutAgentRecord(&core.AgentRecord{AgentID: "stale", Status: core.StatusActive, LastSeenAt: testNow})
	_, err = e.Rebuild(ctx)
	require.NoError(t, err)
	r, _ := e.Snapshot().Resource("stale")
	assert.False(t, r.MarkedForCleanup)

	res, err := e.Cleanup(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Swept)
}

func TestEngine_ConcurrentReadersSeeWholeSnapshots(t *testing.T) {
	e := builtEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				snap := e.Snapshot()
				if snap.Index().Len() != 4 || snap.Graph().Len() != snap.Len() {
					t.Errorf("torn snapshot: %d capabilities, %d nodes, %d resources",
						snap.Index().Len(), snap.Graph().Len(), snap.Len())
					return
				}
				if _, err := e.Discover(ctx, Query{Type: DiscoverCapabilities}); err != nil && ctx.Err() == nil {
					t.Errorf("discover: %v", err)
					return
				}
			}
		}()
	}

	for i := 0; i < 20; i++ {
		_, err := e.Rebuild(context.Background())
		require.NoError(t, err)
		_, err = e.ValidateAll(context.Background())
		require.NoError(t, err)
		_, err = e.RefreshMetadata(context.Background())
		require.NoError(t, err)
	}
	cancel()
	wg.Wait()
}
