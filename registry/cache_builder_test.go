package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/ordregistry/core"
)

func TestMergeRecords(t *testing.T) {
	seen := testNow.Add(-time.Minute)
	resources := []*core.Resource{
		{ID: "both", Kind: core.KindAgent, Status: core.StatusInactive, LastSeenAt: testNow.Add(-time.Hour)},
		{ID: "fn", Kind: core.KindFunction},
		nil,
		{ID: ""},
	}
	agents := []*core.AgentRecord{
		{AgentID: "both", AgentType: "market", Status: core.StatusActive, Capabilities: []string{"price"}, LastSeenAt: seen},
		{AgentID: "orphan", Status: core.StatusInactive, LastSeenAt: seen},
	}

	merged, stats := MergeRecords(resources, agents, testNow)

	require.Len(t, merged, 3)
	both := merged["both"]
	assert.True(t, both.Registered)
	assert.True(t, both.FullyRegistered)
	assert.Equal(t, core.StatusActive, both.Status, "live status wins")
	assert.Equal(t, "market", both.AgentType)
	assert.Equal(t, seen, both.LastSeenAt)
	assert.Equal(t, core.CompliancePending, both.ComplianceStatus)

	orphan := merged["orphan"]
	assert.True(t, orphan.NeedsRegistration)
	assert.False(t, orphan.Registered)
	assert.Equal(t, core.KindAgent, orphan.EffectiveKind())

	assert.False(t, merged["fn"].FullyRegistered)

	assert.Equal(t, CacheStats{TotalResources: 3, ActiveAgents: 1, FunctionEndpoints: 1, LastUpdated: testNow}, stats)
	assert.Equal(t, core.StatusInactive, resources[0].Status, "inputs are not modified")
}

func TestCacheBuilder_DegradesOnAgentFailure(t *testing.T) {
	store := &flakyStore{ResourceStore: seededStore(t, compliantResource("r1", "a"), compliantResource("r2", "b"))}
	store.set(false, true)

	b := NewCacheBuilder(store, testConfig(), nil, nil)
	build := b.Rebuild(context.Background())

	assert.Equal(t, []string{SourceAgentRecords}, build.Degraded)
	assert.Len(t, build.Resources, 2, "store resources survive an agent-record failure")
}

func TestCacheBuilder_LastKnownGood(t *testing.T) {
	mem := seededStore(t, compliantResource("r1", "a"))
	mem.PutAgentRecord(&core.AgentRecord{AgentID: "live", Status: core.StatusActive, LastSeenAt: testNow})
	store := &flakyStore{ResourceStore: mem}

	b := NewCacheBuilder(store, testConfig(), nil, nil)
	first := b.Rebuild(context.Background())
	require.Empty(t, first.Degraded)
	require.Len(t, first.Resources, 2)

	store.set(true, true)
	second := b.Rebuild(context.Background())
	assert.ElementsMatch(t, []string{SourceResources, SourceAgentRecords}, second.Degraded)
	assert.Len(t, second.Resources, 2, "both sources fall back to their last good fetch")
}

func TestCacheBuilder_FetchTimeout(t *testing.T) {
	store := &flakyStore{ResourceStore: seededStore(t, compliantResource("r1", "a")), blockAgents: true}
	cfg := testConfig()
	cfg.Store.FetchTimeout = 20 * time.Millisecond

	b := NewCacheBuilder(store, cfg, nil, nil)
	start := time.Now()
	build := b.Rebuild(context.Background())

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, []string{SourceAgentRecords}, build.Degraded)
	assert.Len(t, build.Resources, 1)
}

func TestCacheBuilder_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	store := &flakyStore{ResourceStore: core.NewMemoryStore()}
	store.set(true, false)
	cfg := testConfig()
	cfg.Resilience.BreakerThreshold = 2

	b := NewCacheBuilder(store, cfg, nil, nil)
	for i := 0; i < 4; i++ {
		b.Rebuild(context.Background())
	}

	assert.Equal(t, "open", b.BreakerStates()[SourceResources])
	assert.Equal(t, "closed", b.BreakerStates()[SourceAgentRecords])
	assert.Equal(t, 2, store.resourceCalls, "an open breaker stops calls to the store")
}
