package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/itsneelabh/ordregistry/core"
	"github.com/itsneelabh/ordregistry/resilience"
)

// Upstream source names as they appear in Degraded lists and logs.
const (
	SourceResources    = "resources"
	SourceAgentRecords = "agent_records"
)

// CacheBuild is the output of one rebuild.
type CacheBuild struct {
	Resources map[string]*core.Resource
	Stats     CacheStats
	Degraded  []string
}

// CacheBuilder pulls resource and agent records from the store and merges
// them into a catalog keyed by resource id.
type CacheBuilder struct {
	store        core.ResourceStore
	fetchTimeout time.Duration
	retry        *resilience.RetryConfig
	breakers     map[string]*resilience.CircuitBreaker
	logger       core.Logger
	telemetry    core.Telemetry
	now          func() time.Time

	mu            sync.Mutex
	lastResources []*core.Resource
	lastAgents    []*core.AgentRecord
}

// NewCacheBuilder creates a builder with one circuit breaker per upstream source.
func NewCacheBuilder(store core.ResourceStore, cfg *core.Config, logger core.Logger, telemetry core.Telemetry) *CacheBuilder {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if telemetry == nil {
		telemetry = &core.NoOpTelemetry{}
	}
	breaker := func(name string) *resilience.CircuitBreaker {
		return resilience.NewCircuitBreaker(&resilience.CircuitBreakerConfig{
			Name:             "store." + name,
			FailureThreshold: cfg.Resilience.BreakerThreshold,
			SleepWindow:      cfg.Resilience.BreakerCooldown,
			Logger:           logger,
			Telemetry:        telemetry,
		})
	}
	return &CacheBuilder{
		store:        store,
		fetchTimeout: cfg.Store.FetchTimeout,
		retry:        resilience.RetryConfigFrom(cfg.Resilience),
		breakers: map[string]*resilience.CircuitBreaker{
			SourceResources:    breaker(SourceResources),
			SourceAgentRecords: breaker(SourceAgentRecords),
		},
		logger:    logger,
		telemetry: telemetry,
		now:       time.Now,
	}
}

// BreakerStates reports the state of each upstream circuit breaker.
func (b *CacheBuilder) BreakerStates() map[string]string {
	out := make(map[string]string, len(b.breakers))
	for name, cb := range b.breakers {
		out[name] = cb.GetState()
	}
	return out
}

// fetch runs one bounded, retried, breaker-guarded upstream call.
func (b *CacheBuilder) fetch(ctx context.Context, source string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, b.fetchTimeout)
	defer cancel()

	err := resilience.RetryWithCircuitBreaker(ctx, b.retry, b.breakers[source], func() error {
		return fn(ctx)
	})
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("fetch %s after %s: %v: %w", source, b.fetchTimeout, err, core.ErrTimeout)
	}
	return err
}

// Rebuild fetches both sources concurrently and merges them. It never fails:
// a source that errors or times out contributes its last-known-good records,
// or nothing if it has never succeeded, and is listed in Degraded.
func (b *CacheBuilder) Rebuild(ctx context.Context) *CacheBuild {
	ctx, span := b.telemetry.StartSpan(ctx, "registry.cache_rebuild")
	defer span.End()
	start := b.now()

	var (
		resources        []*core.Resource
		agents           []*core.AgentRecord
		resErr, agentErr error
	)

	// Both fetches always run to completion; errors are handled per source.
	var g errgroup.Group
	g.Go(func() error {
		resErr = b.fetch(ctx, SourceResources, func(ctx context.Context) error {
			var err error
			resources, err = b.store.ListResources(ctx)
			return err
		})
		return nil
	})
	g.Go(func() error {
		agentErr = b.fetch(ctx, SourceAgentRecords, func(ctx context.Context) error {
			var err error
			agents, err = b.store.ListAgentRecords(ctx)
			return err
		})
		return nil
	})
	_ = g.Wait()

	var degraded []string

	b.mu.Lock()
	if resErr != nil {
		degraded = append(degraded, SourceResources)
		resources = b.lastResources
		b.logger.Warn("Resource fetch failed, using last-known-good records", map[string]interface{}{
			"operation":  "registry_rebuild",
			"source":     SourceResources,
			"error":      resErr.Error(),
			"error_type": fmt.Sprintf("%T", resErr),
			"fallback":   len(resources),
		})
		span.RecordError(resErr)
	} else {
		b.lastResources = resources
	}
	if agentErr != nil {
		degraded = append(degraded, SourceAgentRecords)
		agents = b.lastAgents
		b.logger.Warn("Agent record fetch failed, using last-known-good records", map[string]interface{}{
			"operation":  "registry_rebuild",
			"source":     SourceAgentRecords,
			"error":      agentErr.Error(),
			"error_type": fmt.Sprintf("%T", agentErr),
			"fallback":   len(agents),
		})
		span.RecordError(agentErr)
	} else {
		b.lastAgents = agents
	}
	b.mu.Unlock()

	now := b.now()
	merged, stats := MergeRecords(resources, agents, now)

	span.SetAttribute("registry.total_resources", stats.TotalResources)
	span.SetAttribute("registry.degraded_sources", len(degraded))
	b.telemetry.RecordMetric("registry.rebuild.duration_ms", float64(now.Sub(start).Milliseconds()), nil)

	b.logger.Info("Registry cache built", map[string]interface{}{
		"operation":          "registry_rebuild",
		"total_resources":    stats.TotalResources,
		"active_agents":      stats.ActiveAgents,
		"function_endpoints": stats.FunctionEndpoints,
		"degraded":           degraded,
	})

	return &CacheBuild{Resources: merged, Stats: stats, Degraded: degraded}
}

// MergeRecords merges registrations and agent records by id.
//
// A registration with a matching agent record is fully registered and takes
// the agent's live status. An agent record without a registration is kept
// and flagged NeedsRegistration. Inputs are not modified.
func MergeRecords(resources []*core.Resource, agents []*core.AgentRecord, now time.Time) (map[string]*core.Resource, CacheStats) {
	out := make(map[string]*core.Resource, len(resources)+len(agents))
	stats := CacheStats{LastUpdated: now}

	for _, r := range resources {
		if r == nil || r.ID == "" {
			continue
		}
		c := r.Clone()
		c.Registered = true
		c.ComplianceStatus = core.CompliancePending
		c.LastValidatedAt = nil
		out[c.ID] = c
		if c.Kind == core.KindFunction {
			stats.FunctionEndpoints++
		}
	}

	for _, a := range agents {
		if a == nil || a.AgentID == "" {
			continue
		}
		if a.Status == core.StatusActive {
			stats.ActiveAgents++
		}
		if existing, ok := out[a.AgentID]; ok {
			existing.FullyRegistered = true
			existing.Status = a.Status
			existing.AgentType = a.AgentType
			existing.AgentCapabilities = append([]string(nil), a.Capabilities...)
			if a.LastSeenAt.After(existing.LastSeenAt) {
				existing.LastSeenAt = a.LastSeenAt
			}
			continue
		}
		out[a.AgentID] = &core.Resource{
			ID:                a.AgentID,
			Status:            a.Status,
			LastSeenAt:        a.LastSeenAt,
			AgentType:         a.AgentType,
			AgentCapabilities: append([]string(nil), a.Capabilities...),
			NeedsRegistration: true,
			ComplianceStatus:  core.CompliancePending,
		}
	}

	stats.TotalResources = len(out)
	return out, stats
}
