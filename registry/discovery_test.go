package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/ordregistry/annotation"
	"github.com/itsneelabh/ordregistry/core"
)

// discoveryFixture has four registrations and one agent-only record:
//
//	quotes   agent     quote-lookup, price      active
//	pricing  function  price                    active
//	risk     function  price, risk-score        inactive
//	catalog  data      catalog                  (no status)
//	live     agent     price                    agent record only
func discoveryFixture(t *testing.T) *core.MemoryStore {
	t.Helper()
	quotes := compliantResource("quotes", "quote-lookup", "price")
	quotes.Dependencies = []string{"pricing"}

	pricing := compliantResource("pricing", "price")
	pricing.Kind = core.KindFunction

	risk := compliantResource("risk", "price", "risk-score")
	risk.Kind = core.KindFunction
	risk.Status = core.StatusInactive
	risk.Dependencies = []string{"pricing", "quotes"}

	catalog := compliantResource("catalog", "catalog")
	catalog.Kind = core.KindDataProduct
	catalog.Status = ""
	catalog.Compliance = nil

	store := seededStore(t, quotes, pricing, risk, catalog)
	store.PutAgentRecord(&core.AgentRecord{
		AgentID:      "quotes",
		AgentType:    "market-data",
		Status:       core.StatusActive,
		Capabilities: []string{"quote-lookup"},
		LastSeenAt:   testNow.Add(-time.Minute),
	})
	store.PutAgentRecord(&core.AgentRecord{
		AgentID:      "live",
		AgentType:    "sentiment",
		Status:       core.StatusActive,
		Capabilities: []string{"price"},
		LastSeenAt:   testNow.Add(-time.Minute),
	})
	return store
}

func builtEngine(t *testing.T, opts ...EngineOption) *Engine {
	t.Helper()
	e, _ := newTestEngine(t, discoveryFixture(t), opts...)
	_, err := e.Rebuild(context.Background())
	require.NoError(t, err)
	return e
}

func TestDiscover_BeforeFirstRebuild(t *testing.T) {
	e, _ := newTestEngine(t, core.NewMemoryStore())
	_, err := e.Discover(context.Background(), Query{Type: DiscoverCapabilities})
	assert.ErrorIs(t, err, core.ErrCacheNotBuilt)
	assert.False(t, core.IsClientError(err))
}

func TestDiscover_UnknownType(t *testing.T) {
	e := builtEngine(t)
	_, err := e.Discover(context.Background(), Query{Type: "widgets"})
	assert.ErrorIs(t, err, core.ErrUnknownDiscoveryType)
	assert.True(t, core.IsClientError(err))
}

func TestDiscover_Capabilities(t *testing.T) {
	e := builtEngine(t)

	resp, err := e.Discover(context.Background(), Query{Type: DiscoverCapabilities})
	require.NoError(t, err)

	items := resp.Capabilities()
	require.Len(t, items, 4)
	assert.Equal(t, "price", items[0].Capability, "most providers first")
	assert.Equal(t, 4, items[0].TotalProviders)
	assert.Equal(t, 0.7, items[0].MatchQuality, "0.5 + 0.1 + 0.1")
	assert.Equal(t, annotation.DefaultCapabilityInsights(), items[0].Insights)
	assert.Equal(t, "standard", items[0].RecommendedUsage)
	assert.Equal(t, []string{"catalog", "quote-lookup", "risk-score"},
		[]string{items[1].Capability, items[2].Capability, items[3].Capability}, "ties stay alphabetical")

	assert.Equal(t, DiscoverCapabilities, resp.Type)
	assert.Equal(t, 4, resp.Metadata.ItemCount)
	assert.Equal(t, uint64(1), resp.Metadata.Generation)
	assert.False(t, resp.Metadata.Annotated)
	assert.Empty(t, resp.Metadata.Degraded)
	assert.NotEmpty(t, resp.Metadata.RequestID)
}

func TestDiscover_CapabilityFilters(t *testing.T) {
	e := builtEngine(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		filters   map[string]interface{}
		providers map[string][]string
	}{
		{
			name:      "substring",
			filters:   map[string]interface{}{"capabilityContains": "quote"},
			providers: map[string][]string{"quote-lookup": {"quotes"}},
		},
		{
			name:      "snake_case alias",
			filters:   map[string]interface{}{"capability_type": "risk"},
			providers: map[string][]string{"risk-score": {"risk"}},
		},
		{
			name:      "kind",
			filters:   map[string]interface{}{"capabilityContains": "price", "kind": "function"},
			providers: map[string][]string{"price": {"pricing", "risk"}},
		},
		{
			name:      "minimum confidence as json number",
			filters:   map[string]interface{}{"capabilityContains": "price", "minConfidence": json.Number("1")},
			providers: map[string][]string{"price": {"pricing", "quotes"}},
		},
		{
			name:      "agent type",
			filters:   map[string]interface{}{"agentType": "sentiment"},
			providers: map[string][]string{"price": {"live"}},
		},
		{
			name:      "unknown keys are ignored",
			filters:   map[string]interface{}{"capabilityContains": "catalog", "flavour": "vanilla"},
			providers: map[string][]string{"catalog": {"catalog"}},
		},
		{
			name:      "no match",
			filters:   map[string]interface{}{"capabilityContains": "nothing"},
			providers: map[string][]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := e.Discover(ctx, Query{Type: DiscoverCapabilities, Filters: tt.filters})
			require.NoError(t, err)

			got := map[string][]string{}
			for _, item := range resp.Capabilities() {
				for _, p := range item.Providers {
					got[item.Capability] = append(got[item.Capability], p.ResourceID)
				}
			}
			assert.Equal(t, tt.providers, got)
		})
	}
}

func TestMatchQuality(t *testing.T) {
	assert.Equal(t, 0.5, MatchQuality("price", "", 1))
	assert.Equal(t, 0.8, MatchQuality("price", "pri", 1))
	assert.Equal(t, 0.5, MatchQuality("price", "quote", 1))
	assert.Equal(t, 0.9, MatchQuality("price", "pri", 2))
	assert.Equal(t, 1.0, MatchQuality("price", "pri", 4))
}

func TestDiscover_Resources(t *testing.T) {
	e := builtEngine(t)
	ctx := context.Background()
	_, err := e.ValidateAll(ctx)
	require.NoError(t, err)

	ids := func(resp *Response) []string {
		var out []string
		for _, r := range resp.Resources() {
			out = append(out, r.ResourceID)
		}
		return out
	}

	resp, err := e.Discover(ctx, Query{Type: DiscoverResources})
	require.NoError(t, err)
	assert.Equal(t, []string{"catalog", "live", "pricing", "quotes", "risk"}, ids(resp))

	resp, err = e.Discover(ctx, Query{Type: DiscoverResources, Filters: map[string]interface{}{"kind": "function"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"pricing", "risk"}, ids(resp))

	resp, err = e.Discover(ctx, Query{Type: DiscoverResources, Filters: map[string]interface{}{"status": "inactive"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"risk"}, ids(resp))

	resp, err = e.Discover(ctx, Query{Type: DiscoverResources, Filters: map[string]interface{}{"compliance_required": "true"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"pricing", "quotes", "risk"}, ids(resp))

	resp, err = e.Discover(ctx, Query{Type: DiscoverResources, Filters: map[string]interface{}{"complianceStatus": "non_compliant"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"catalog", "live"}, ids(resp))

	resp, err = e.Discover(ctx, Query{Type: DiscoverResources, Filters: map[string]interface{}{"kind": "agent", "agentType": "market-data"}})
	require.NoError(t, err)
	quotes := resp.Resources()
	require.Len(t, quotes, 1)
	assert.True(t, quotes[0].FullyRegistered)
	assert.Equal(t, core.ComplianceCompliant, quotes[0].ComplianceStatus)
	require.NotNil(t, quotes[0].LastValidatedAt)
	assert.Equal(t, annotation.DefaultResourceInsights(), quotes[0].Insights)
}

func TestDiscover_Agents(t *testing.T) {
	e := builtEngine(t)

	resp, err := e.Discover(context.Background(), Query{Type: DiscoverAgents, Filters: map[string]interface{}{"kind": "function"}})
	require.NoError(t, err)

	items := resp.Resources()
	require.Len(t, items, 2, "the kind filter is fixed to agent")
	assert.Equal(t, "live", items[0].ResourceID)
	assert.True(t, items[0].NeedsRegistration)
	assert.Equal(t, "quotes", items[1].ResourceID)
}

func TestDiscover_Dependencies(t *testing.T) {
	e := builtEngine(t)
	ctx := context.Background()

	resp, err := e.Discover(ctx, Query{Type: DiscoverDependencies, Filters: map[string]interface{}{"resourceId": "pricing"}})
	require.NoError(t, err)
	items := resp.Dependencies()
	require.Len(t, items, 1)
	require.NotNil(t, items[0].Node)
	assert.Equal(t, []string{"quotes", "risk"}, items[0].Node.Dependents)
	assert.Equal(t, 0, items[0].Node.Depth)

	resp, err = e.Discover(ctx, Query{Type: DiscoverDependencies})
	require.NoError(t, err)
	m := resp.Dependencies()[0].Metrics
	require.NotNil(t, m)
	assert.Equal(t, 2, m.MaxDepth, "risk -> quotes -> pricing")
	assert.Equal(t, 5, m.TotalNodes)
	assert.InDelta(t, 0.6, m.AvgDepth, 1e-9)
}

func TestDiscover_DependenciesNotFound(t *testing.T) {
	e := builtEngine(t)
	before := e.Snapshot()

	_, err := e.Discover(context.Background(), Query{
		Type:    DiscoverDependencies,
		Filters: map[string]interface{}{"resource_id": "unregistered"},
	})
	require.Error(t, err)
	assert.True(t, core.IsNotFound(err))
	assert.True(t, core.IsClientError(err))

	var regErr *core.RegistryError
	require.True(t, errors.As(err, &regErr))
	assert.Equal(t, "unregistered", regErr.ID)
	assert.Same(t, before, e.Snapshot(), "a failed query does not change engine state")
}

func TestDiscover_Annotation(t *testing.T) {
	fake := &fakeAnnotator{fail: map[string]bool{"catalog": true}}
	e := builtEngine(t, WithAnnotator(fake))

	resp, err := e.Discover(context.Background(), Query{Type: DiscoverCapabilities})
	require.NoError(t, err)

	assert.True(t, resp.Metadata.Annotated)
	assert.Equal(t, []string{"annotation"}, resp.Metadata.Degraded)
	for _, item := range resp.Capabilities() {
		if item.Capability == "catalog" {
			assert.Equal(t, annotation.DefaultCapabilityInsights(), item.Insights, "a failed annotation falls back to defaults")
			assert.Equal(t, "standard", item.RecommendedUsage)
			continue
		}
		assert.Equal(t, 0.9, item.Insights.RelevanceScore)
		assert.Equal(t, "primary", item.RecommendedUsage)
	}

	resp, err = e.Discover(context.Background(), Query{Type: DiscoverResources, Filters: map[string]interface{}{"kind": "function"}})
	require.NoError(t, err)
	for _, item := range resp.Resources() {
		assert.Equal(t, "high", item.Insights.OptimizationPotential)
	}
	assert.Empty(t, resp.Metadata.Degraded)
}

func TestDiscover_SlowAnnotationIsBounded(t *testing.T) {
	cfg := testConfig()
	cfg.Annotation.Timeout = 20 * time.Millisecond
	clock := newTestClock()
	e := NewEngine(discoveryFixture(t), cfg, WithClock(clock.Now), WithAnnotator(&fakeAnnotator{delay: time.Minute}))
	_, err := e.Rebuild(context.Background())
	require.NoError(t, err)

	start := time.Now()
	resp, err := e.Discover(context.Background(), Query{Type: DiscoverCapabilities})
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.False(t, resp.Metadata.Annotated)
	assert.Equal(t, []string{"annotation"}, resp.Metadata.Degraded)
	for _, item := range resp.Capabilities() {
		assert.Equal(t, annotation.DefaultCapabilityInsights(), item.Insights)
	}
}

func TestDiscover_AnnotationStepIsBoundedForManyItems(t *testing.T) {
	resources := make([]*core.Resource, 0, 80)
	for i := 0; i < 80; i++ {
		resources = append(resources, compliantResource(fmt.Sprintf("svc-%02d", i), fmt.Sprintf("cap-%02d", i)))
	}
	cfg := testConfig()
	cfg.Annotation.Timeout = 50 * time.Millisecond
	clock := newTestClock()
	e := NewEngine(seededStore(t, resources...), cfg, WithClock(clock.Now), WithAnnotator(&fakeAnnotator{delay: time.Minute}))
	_, err := e.Rebuild(context.Background())
	require.NoError(t, err)

	start := time.Now()
	resp, err := e.Discover(context.Background(), Query{Type: DiscoverCapabilities})
	require.NoError(t, err)
	elapsed := time.Since(start)

	// Ten sequential batches would take at least 500ms.
	assert.Less(t, elapsed, 300*time.Millisecond)
	require.Len(t, resp.Capabilities(), 80)
	assert.Equal(t, []string{"annotation"}, resp.Metadata.Degraded)
	for _, item := range resp.Capabilities() {
		assert.Equal(t, annotation.DefaultCapabilityInsights(), item.Insights)
	}
}

func TestDiscover_NormalizesType(t *testing.T) {
	e := builtEngine(t)

	resp, err := e.Discover(context.Background(), Query{Type: "Capabilities"})
	require.NoError(t, err)
	assert.Equal(t, DiscoverCapabilities, resp.Type)
	assert.NotEmpty(t, resp.Capabilities())
}

func TestParseDiscoveryType(t *testing.T) {
	typ, err := ParseDiscoveryType(" Agents ")
	require.NoError(t, err)
	assert.Equal(t, DiscoverAgents, typ)

	_, err = ParseDiscoveryType("widgets")
	assert.ErrorIs(t, err, core.ErrUnknownDiscoveryType)
}

func TestFilters(t *testing.T) {
	f := filters{
		"minConfidence":         "0.75",
		"performance_threshold": 0.1,
		"complianceRequired":    1.0,
		"kind":                  nil,
		"resource_type":         "function",
	}

	v, ok := f.float(FilterMinConfidence)
	assert.True(t, ok)
	assert.Equal(t, 0.75, v, "the canonical key wins over its alias")

	b, ok := f.boolean(FilterComplianceRequired)
	assert.True(t, ok)
	assert.True(t, b)

	s, ok := f.str(FilterKind)
	assert.True(t, ok)
	assert.Equal(t, "function", s, "a nil value falls through to the alias")

	_, ok = f.str(FilterStatus)
	assert.False(t, ok)
}
