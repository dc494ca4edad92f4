// Package registry maintains the live ORD resource catalog and answers
// discovery queries against it.
//
// # Snapshots
//
// Every catalog mutation produces a new immutable Snapshot: the resource
// cache, the capability index and the dependency graph are derived together
// from one set of resources and published with a single atomic swap. Readers
// load the current snapshot once per query and never observe a partially
// rebuilt view. A query that started before a swap finishes against the
// snapshot it loaded.
//
// Writers (rebuild, metadata refresh, compliance validation and cleanup) are
// serialized by the Engine. Each writer copies the resources it changes and
// shares everything else with the previous snapshot.
//
// # Pipeline
//
//	ResourceStore
//	   │  ListResources / ListAgentRecords (concurrent, time-bounded, retried)
//	   ▼
//	CacheBuilder ──► map[id]*core.Resource
//	   │
//	   ├──► BuildCapabilityIndex   capability → providers with confidence
//	   ├──► AnalyzeDependencies    nodes, dependents, depth, critical path
//	   └──► Validator              compliance status per resource
//	   ▼
//	Engine.Discover / Engine.Stats / Engine.Validate
//
// Upstream failures never abort a rebuild. A source that fails is replaced by
// its last-known-good records and reported in the snapshot's Degraded list.
//
// # Usage
//
//	engine := registry.NewEngine(store, cfg, registry.WithLogger(logger))
//	if err := engine.Rebuild(ctx); err != nil {
//	    return err
//	}
//	resp, err := engine.Discover(ctx, registry.Query{
//	    Type:    registry.DiscoverCapabilities,
//	    Filters: map[string]interface{}{"capabilityContains": "quote"},
//	})
package registry
