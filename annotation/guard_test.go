package annotation

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/ordregistry/core"
)

// funcProvider adapts a function to Provider.
type funcProvider func(ctx context.Context, req Request) (Insights, error)

func (f funcProvider) Annotate(ctx context.Context, req Request) (Insights, error) {
	return f(ctx, req)
}

func capabilityResult(score float64) Insights {
	return Insights{Capability: &CapabilityInsights{RelevanceScore: score}}
}

func TestGuard(t *testing.T) {
	req := Request{Subject: SubjectCapability, Capability: "price"}

	t.Run("passes results through", func(t *testing.T) {
		g := NewGuard(funcProvider(func(context.Context, Request) (Insights, error) {
			return capabilityResult(0.8), nil
		}), time.Second, nil)
		insights, err := g.Annotate(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, 0.8, insights.Capability.RelevanceScore)
	})

	t.Run("provider error", func(t *testing.T) {
		g := NewGuard(funcProvider(func(context.Context, Request) (Insights, error) {
			return capabilityResult(0.8), errors.New("quota exceeded")
		}), time.Second, nil)
		insights, err := g.Annotate(context.Background(), req)
		assert.ErrorIs(t, err, core.ErrAnnotationUnavailable)
		assert.Contains(t, err.Error(), "quota exceeded")
		assert.True(t, insights.Empty())
	})

	t.Run("provider ignores its context", func(t *testing.T) {
		release := make(chan struct{})
		defer close(release)
		g := NewGuard(funcProvider(func(context.Context, Request) (Insights, error) {
			<-release
			return capabilityResult(0.8), nil
		}), 20*time.Millisecond, nil)

		start := time.Now()
		insights, err := g.Annotate(context.Background(), req)
		assert.ErrorIs(t, err, core.ErrAnnotationUnavailable)
		assert.True(t, insights.Empty())
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("provider panics", func(t *testing.T) {
		g := NewGuard(funcProvider(func(context.Context, Request) (Insights, error) {
			panic("nil map")
		}), time.Second, nil)
		_, err := g.Annotate(context.Background(), req)
		assert.ErrorIs(t, err, core.ErrAnnotationUnavailable)
		assert.Contains(t, err.Error(), "nil map")
	})
}

func TestCached(t *testing.T) {
	var calls atomic.Int64
	fail := atomic.Bool{}
	c := NewCached(funcProvider(func(_ context.Context, req Request) (Insights, error) {
		calls.Add(1)
		if fail.Load() {
			return Insights{}, errors.New("down")
		}
		return capabilityResult(0.9), nil
	}), time.Minute)

	req := Request{Subject: SubjectCapability, Capability: "price", Providers: []string{"a"}}
	for i := 0; i < 3; i++ {
		insights, err := c.Annotate(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, 0.9, insights.Capability.RelevanceScore)
	}
	assert.Equal(t, int64(1), calls.Load())
	hits, misses := c.Stats()
	assert.Equal(t, int64(2), hits)
	assert.Equal(t, int64(1), misses)

	fail.Store(true)
	other := Request{Subject: SubjectCapability, Capability: "risk"}
	_, err := c.Annotate(context.Background(), other)
	require.Error(t, err)
	_, err = c.Annotate(context.Background(), other)
	require.Error(t, err)
	assert.Equal(t, int64(3), calls.Load(), "failures are not cached")

	c.Flush()
	fail.Store(false)
	_, err = c.Annotate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(4), calls.Load())
}

func TestFromConfig(t *testing.T) {
	cfg := core.DefaultConfig().Annotation
	assert.IsType(t, NoOp{}, FromConfig(cfg, nil, nil))

	cfg.Enabled = true
	p := FromConfig(cfg, &core.NoOpLogger{}, &core.NoOpTelemetry{})
	g, ok := p.(*Guard)
	require.True(t, ok)
	assert.IsType(t, &Cached{}, g.next)
	assert.Equal(t, cfg.Timeout, g.timeout)

	cfg.CacheTTL = 0
	g = FromConfig(cfg, &core.NoOpLogger{}, &core.NoOpTelemetry{}).(*Guard)
	assert.IsType(t, &OpenAIProvider{}, g.next)

	_, err := g.Annotate(context.Background(), Request{Subject: SubjectCapability})
	assert.ErrorIs(t, err, core.ErrAnnotationUnavailable, "missing api key surfaces as unavailable")
	assert.ErrorIs(t, err, core.ErrMissingConfiguration)
}
