package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/itsneelabh/ordregistry/annotation"
	"github.com/itsneelabh/ordregistry/core"
)

// Engine owns the catalog snapshots and serves every registry operation.
// Queries are lock-free reads of the current snapshot. Writers are
// serialized and publish a new snapshot on success.
type Engine struct {
	store     core.ResourceStore
	cfg       *core.Config
	builder   *CacheBuilder
	validator *Validator

	annotator         annotation.Provider
	annotationEnabled bool

	logger            core.Logger
	telemetry         core.Telemetry
	now               func() time.Time
	rebuildOnRegister bool

	snapshots snapshotHolder

	// writeMu serializes snapshot writers. Fields below it are guarded by it.
	writeMu    sync.Mutex
	generation uint64
	tombstones map[string]time.Time

	reportMu   sync.RWMutex
	lastReport *ComplianceReport
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger used by the engine and its components.
func WithLogger(logger core.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTelemetry sets the telemetry provider.
func WithTelemetry(t core.Telemetry) EngineOption {
	return func(e *Engine) {
		if t != nil {
			e.telemetry = t
		}
	}
}

// WithAnnotator injects an annotation provider. It is wrapped in a Guard
// bounded by the configured annotation timeout.
func WithAnnotator(p annotation.Provider) EngineOption {
	return func(e *Engine) {
		e.annotator = p
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithRebuildOnRegister makes Register rebuild the cache after a successful upsert.
func WithRebuildOnRegister(enabled bool) EngineOption {
	return func(e *Engine) {
		e.rebuildOnRegister = enabled
	}
}

// NewEngine creates an engine over store. A nil cfg uses DefaultConfig.
// No snapshot exists until the first Rebuild.
func NewEngine(store core.ResourceStore, cfg *core.Config, opts ...EngineOption) *Engine {
	if cfg == nil {
		cfg = core.DefaultConfig()
	}
	e := &Engine{
		store:      store,
		cfg:        cfg,
		validator:  NewValidator(cfg.Compliance.SchemaVersion),
		logger:     &core.NoOpLogger{},
		telemetry:  &core.NoOpTelemetry{},
		now:        time.Now,
		tombstones: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.annotator == nil {
		e.annotator = annotation.FromConfig(cfg.Annotation, e.logger, e.telemetry)
	}
	switch e.annotator.(type) {
	case annotation.NoOp, *annotation.NoOp:
		e.annotationEnabled = false
	case *annotation.Guard:
		e.annotationEnabled = true
	default:
		e.annotator = annotation.NewGuard(e.annotator, cfg.Annotation.Timeout, e.logger)
		e.annotationEnabled = true
	}

	e.builder = NewCacheBuilder(store, cfg, e.logger, e.telemetry)
	e.builder.now = func() time.Time { return e.now() }
	return e
}

// Snapshot returns the current snapshot, or nil before the first rebuild.
func (e *Engine) Snapshot() *Snapshot {
	return e.snapshots.load()
}

// Ready reports whether a snapshot has been published.
func (e *Engine) Ready() bool {
	return e.snapshots.load() != nil
}

// BreakerStates reports the circuit breaker state per upstream source.
func (e *Engine) BreakerStates() map[string]string {
	return e.builder.BreakerStates()
}

// LastReport returns the most recent full compliance report, or nil.
func (e *Engine) LastReport() *ComplianceReport {
	e.reportMu.RLock()
	defer e.reportMu.RUnlock()
	return e.lastReport
}

func (e *Engine) current(op string) (*Snapshot, error) {
	snap := e.snapshots.load()
	if snap == nil {
		return nil, &core.RegistryError{Op: op, Kind: "state", Err: core.ErrCacheNotBuilt}
	}
	return snap, nil
}

// publish stamps snap with the next generation and swaps it in.
// Callers hold writeMu.
func (e *Engine) publish(snap *Snapshot) {
	e.generation++
	snap.Generation = e.generation
	e.snapshots.store(snap)
}

// derive returns a snapshot over resources that keeps prev's build metadata.
func derive(prev *Snapshot, resources map[string]*core.Resource, index *CapabilityIndex, graph *DependencyGraph) *Snapshot {
	snap := newSnapshot(resources, index, graph)
	snap.BuiltAt = prev.BuiltAt
	snap.Stats = prev.Stats
	snap.Degraded = prev.Degraded
	return snap
}

// Rebuild runs one full discovery cycle: fetch, merge, index, analyze and
// swap. Upstream failures degrade the build but never fail it; the only
// error is a context that is already done.
func (e *Engine) Rebuild(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	build := e.builder.Rebuild(ctx)
	now := e.now()
	resources := build.Resources
	prev := e.snapshots.load()

	e.applyTombstones(resources, len(build.Degraded) == 0)
	for id, r := range resources {
		if prev == nil {
			break
		}
		old, ok := prev.Resource(id)
		if !ok {
			continue
		}
		if old.LastValidatedAt != nil && complianceFingerprint(old) == complianceFingerprint(r) {
			at := *old.LastValidatedAt
			r.LastValidatedAt = &at
			r.ComplianceStatus = old.ComplianceStatus
		}
		if old.LastRefreshedAt != nil {
			at := *old.LastRefreshedAt
			r.LastRefreshedAt = &at
		}
		r.MarkedForCleanup = old.MarkedForCleanup && e.isStale(r, now)
	}

	index := BuildCapabilityIndex(resources, now, e.cfg.Confidence.RecencyWindow)
	graph := AnalyzeDependencies(resources, e.cfg.Graph)

	snap := newSnapshot(resources, index, graph)
	snap.BuiltAt = now
	snap.Stats = build.Stats
	snap.Stats.TotalResources = len(resources)
	snap.Degraded = build.Degraded
	e.publish(snap)

	e.logger.Info("Registry snapshot published", map[string]interface{}{
		"operation":    "registry_rebuild",
		"generation":   snap.Generation,
		"resources":    snap.Len(),
		"capabilities": index.Len(),
		"graph_nodes":  graph.Len(),
		"degraded":     build.Degraded,
	})
	return snap, nil
}

// complianceFingerprint covers every field the validator reads. A resource
// whose fingerprint is unchanged keeps its previous compliance status.
func complianceFingerprint(r *core.Resource) string {
	b, _ := json.Marshal(struct {
		Kind         core.ResourceKind
		Name         string
		Capabilities *core.CapabilitySet
		Compliance   *core.ComplianceMetadata
		Malformed    bool
		ShapeIssues  []string
	}{r.Kind, r.Name, r.Capabilities, r.Compliance, r.Malformed, r.ShapeIssues})
	return string(b)
}

// Discover answers a discovery query against the current snapshot.
func (e *Engine) Discover(ctx context.Context, q Query) (*Response, error) {
	if t, err := ParseDiscoveryType(string(q.Type)); err == nil {
		q.Type = t
	}
	snap, err := e.current("registry.Discover")
	if err != nil {
		return nil, err
	}
	ctx, span := e.telemetry.StartSpan(ctx, "registry.discover")
	defer span.End()
	span.SetAttribute("discovery.type", string(q.Type))
	span.SetAttribute("registry.generation", int64(snap.Generation))

	resp, err := e.discover(ctx, snap, q)
	if err != nil {
		span.RecordError(err)
		e.logger.Debug("Discovery query rejected", map[string]interface{}{
			"operation": "registry_discover",
			"type":      string(q.Type),
			"error":     err.Error(),
		})
		return nil, err
	}
	e.telemetry.RecordMetric("registry.discover.items", float64(resp.Metadata.ItemCount),
		map[string]string{"type": string(q.Type)})
	return resp, nil
}

// Validate checks one resource when id is set, or the whole catalog when it
// is empty. Single-resource validation leaves every other resource untouched.
func (e *Engine) Validate(ctx context.Context, id string) (*ComplianceReport, error) {
	if id == "" {
		return e.ValidateAll(ctx)
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	snap, err := e.current("registry.Validate")
	if err != nil {
		return nil, err
	}
	r, ok := snap.Resource(id)
	if !ok {
		return nil, &core.RegistryError{Op: "registry.Validate", Kind: "not_found", ID: id, Err: core.ErrResourceNotFound}
	}

	now := e.now()
	res := e.validator.Validate(r, now)
	resources, _ := snap.withResources(func(c *core.Resource) *core.Resource {
		if c.ID != id {
			return nil
		}
		return res.apply(c)
	})
	next := derive(snap, resources, snap.Index(), snap.Graph())
	e.publish(next)

	return newComplianceReport(next.Generation, now, []ValidationResult{res}), nil
}

// ValidateAll validates every cached resource, writes the status back onto
// a new snapshot and records the report as the latest.
func (e *Engine) ValidateAll(ctx context.Context) (*ComplianceReport, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	snap, err := e.current("registry.ValidateAll")
	if err != nil {
		return nil, err
	}
	_, span := e.telemetry.StartSpan(ctx, "registry.validate_all")
	defer span.End()

	now := e.now()
	results := make([]ValidationResult, 0, snap.Len())
	byID := make(map[string]ValidationResult, snap.Len())
	snap.each(func(r *core.Resource) {
		res := e.validator.Validate(r, now)
		results = append(results, res)
		byID[r.ID] = res
	})
	resources, _ := snap.withResources(func(r *core.Resource) *core.Resource {
		return byID[r.ID].apply(r)
	})
	next := derive(snap, resources, snap.Index(), snap.Graph())
	e.publish(next)

	report := newComplianceReport(next.Generation, now, results)
	e.reportMu.Lock()
	e.lastReport = report
	e.reportMu.Unlock()

	span.SetAttribute("compliance.total", report.Total)
	span.SetAttribute("compliance.non_compliant", report.NonCompliant)
	e.telemetry.RecordMetric("registry.compliance.non_compliant", float64(report.NonCompliant), nil)
	e.logger.Info("Compliance validation complete", map[string]interface{}{
		"operation":     "compliance_validate",
		"report_id":     report.ID,
		"total":         report.Total,
		"compliant":     report.Compliant,
		"non_compliant": report.NonCompliant,
	})
	return report, nil
}

// Stats returns the health view of the current snapshot.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	snap, err := e.current("registry.Stats")
	if err != nil {
		return Stats{}, err
	}
	return computeStats(snap), nil
}

// Register upserts a resource into the store and reports the store's
// result. The resource becomes visible after the next rebuild, or at once
// when the engine rebuilds on register.
func (e *Engine) Register(ctx context.Context, r *core.Resource) error {
	if err := validateRegistration(r); err != nil {
		return err
	}

	upsertCtx, cancel := context.WithTimeout(ctx, e.cfg.Store.FetchTimeout)
	err := e.store.UpsertResource(upsertCtx, r)
	cancel()
	if err != nil {
		e.logger.Error("Resource registration failed", map[string]interface{}{
			"operation":   "resource_register",
			"resource_id": r.ID,
			"error":       err.Error(),
		})
		return &core.RegistryError{Op: "registry.Register", Kind: "store", ID: r.ID, Err: err}
	}

	e.writeMu.Lock()
	delete(e.tombstones, r.ID)
	e.writeMu.Unlock()

	e.logger.Info("Resource registered", map[string]interface{}{
		"operation":     "resource_register",
		"resource_id":   r.ID,
		"resource_type": string(r.Kind),
	})

	if e.rebuildOnRegister {
		if _, err := e.Rebuild(ctx); err != nil {
			return err
		}
	}
	return nil
}

func validateRegistration(r *core.Resource) error {
	invalid := func(id, msg string) error {
		return &core.RegistryError{
			Op:   "registry.Register",
			Kind: "validation",
			ID:   id,
			Err:  fmt.Errorf("%s: %w", msg, core.ErrInvalidResource),
		}
	}
	switch {
	case r == nil:
		return invalid("", "resource is nil")
	case r.ID == "":
		return invalid("", "id is required")
	case !r.Kind.Valid():
		return invalid(r.ID, fmt.Sprintf("unknown resource_type %q", r.Kind))
	}
	return nil
}
