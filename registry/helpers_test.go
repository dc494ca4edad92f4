package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/ordregistry/annotation"
	"github.com/itsneelabh/ordregistry/core"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// testClock is a settable clock shared by an engine and its test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: testNow}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testConfig() *core.Config {
	cfg := core.DefaultConfig()
	cfg.Store.FetchTimeout = time.Second
	cfg.Resilience.RetryAttempts = 1
	cfg.Resilience.RetryInitialDelay = time.Millisecond
	cfg.Resilience.RetryMaxDelay = time.Millisecond
	return cfg
}

// compliantResource returns a registration that passes every compliance rule.
func compliantResource(id string, capabilities ...string) *core.Resource {
	return &core.Resource{
		ID:   id,
		Kind: core.KindAgent,
		Name: id + " agent",
		Path: "/api/agents/" + id,
		Capabilities: &core.CapabilitySet{
			Inputs:    capabilities,
			Protocols: []string{"http"},
		},
		Compliance: &core.ComplianceMetadata{Version: core.DefaultSchemaVersion},
		Status:     core.StatusActive,
		LastSeenAt: testNow.Add(-time.Hour),
	}
}

func newTestEngine(t *testing.T, store core.ResourceStore, opts ...EngineOption) (*Engine, *testClock) {
	t.Helper()
	clock := newTestClock()
	opts = append([]EngineOption{WithClock(clock.Now), WithAnnotator(annotation.NoOp{})}, opts...)
	return NewEngine(store, testConfig(), opts...), clock
}

func seededStore(t *testing.T, resources ...*core.Resource) *core.MemoryStore {
	t.Helper()
	store := core.NewMemoryStore()
	for _, r := range resources {
		require.NoError(t, store.UpsertResource(context.Background(), r))
	}
	return store
}

// flakyStore wraps a store and fails the selected sources on demand.
type flakyStore struct {
	core.ResourceStore

	mu            sync.Mutex
	failResources bool
	failAgents    bool
	blockAgents   bool
	resourceCalls int
	agentCalls    int
	upsertErr     error
}

func (f *flakyStore) set(resources, agents bool) {
	f.mu.Lock()
	f.failResources, f.failAgents = resources, agents
	f.mu.Unlock()
}

func (f *flakyStore) ListResources(ctx context.Context) ([]*core.Resource, error) {
	f.mu.Lock()
	f.resourceCalls++
	fail := f.failResources
	f.mu.Unlock()
	if fail {
		return nil, fmt.Errorf("list resources: %w", core.ErrStoreUnavailable)
	}
	return f.ResourceStore.ListResources(ctx)
}

func (f *flakyStore) ListAgentRecords(ctx context.Context) ([]*core.AgentRecord, error) {
	f.mu.Lock()
	f.agentCalls++
	fail, block := f.failAgents, f.blockAgents
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if fail {
		return nil, fmt.Errorf("list agents: %w", core.ErrStoreUnavailable)
	}
	return f.ResourceStore.ListAgentRecords(ctx)
}

func (f *flakyStore) UpsertResource(ctx context.Context, r *core.Resource) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	return f.ResourceStore.UpsertResource(ctx, r)
}

// fakeAnnotator returns fixed insights, or an error for the listed subjects.
type fakeAnnotator struct {
	mu    sync.Mutex
	calls int
	fail  map[string]bool
	delay time.Duration
}

func (f *fakeAnnotator) Annotate(ctx context.Context, req annotation.Request) (annotation.Insights, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return annotation.Insights{}, ctx.Err()
		}
	}
	key := req.Capability
	if req.Subject == annotation.SubjectResource {
		key = req.ResourceID
	}
	if f.fail[key] {
		return annotation.Insights{}, fmt.Errorf("annotate %s: upstream error", key)
	}
	switch req.Subject {
	case annotation.SubjectCapability:
		return annotation.Insights{Capability: &annotation.CapabilityInsights{
			RelevanceScore:          0.9,
			OptimizationSuggestions: []string{"cache " + req.Capability},
			UsagePatterns:           "burst",
			RecommendedUsage:        "primary",
		}}, nil
	default:
		return annotation.Insights{Resource: &annotation.ResourceInsights{
			UtilizationScore:      0.4,
			OptimizationPotential: "high",
			RecommendedActions:    []string{"scale down"},
		}}, nil
	}
}
