package registry

import (
	"context"
	"time"

	"github.com/itsneelabh/ordregistry/core"
)

// CleanupResult lists the ids marked and swept by one cleanup pass.
type CleanupResult struct {
	Marked    []string `json:"marked"`
	Swept     []string `json:"swept"`
	Unmarked  []string `json:"unmarked"`
	Remaining int      `json:"remaining"`
}

// isStale reports whether r has not been seen within the staleness window
// and is not active. A resource that was never seen is not stale.
func (e *Engine) isStale(r *core.Resource, now time.Time) bool {
	if r.LastSeenAt.IsZero() || r.Status == core.StatusActive {
		return false
	}
	return now.Sub(r.LastSeenAt) > e.cfg.Cleanup.StaleAfter
}

// Cleanup runs one mark-and-sweep pass. A stale resource is first marked;
// if it is still marked and still stale on a later pass it is removed from
// the catalog and tombstoned, so rebuilds skip it until its upstream record
// is seen again. Resources that recover are unmarked.
func (e *Engine) Cleanup(ctx context.Context) (CleanupResult, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	var result CleanupResult
	snap, err := e.current("registry.Cleanup")
	if err != nil {
		return result, err
	}

	now := e.now()
	resources := make(map[string]*core.Resource, snap.Len())
	snap.each(func(r *core.Resource) {
		stale := e.isStale(r, now)
		switch {
		case stale && r.MarkedForCleanup:
			result.Swept = append(result.Swept, r.ID)
			e.tombstones[r.ID] = r.LastSeenAt
		case stale:
			c := r.Clone()
			c.MarkedForCleanup = true
			resources[r.ID] = c
			result.Marked = append(result.Marked, r.ID)
		case r.MarkedForCleanup:
			c := r.Clone()
			c.MarkedForCleanup = false
			resources[r.ID] = c
			result.Unmarked = append(result.Unmarked, r.ID)
		default:
			resources[r.ID] = r
		}
	})
	result.Remaining = len(resources)

	if len(result.Marked)+len(result.Swept)+len(result.Unmarked) == 0 {
		return result, nil
	}

	if marker, ok := e.store.(core.CleanupMarker); ok {
		for _, id := range result.Marked {
			if err := marker.MarkForCleanup(ctx, id); err != nil {
				e.logger.Warn("Failed to mark resource for cleanup in store", map[string]interface{}{
					"operation":   "registry_cleanup",
					"resource_id": id,
					"error":       err.Error(),
				})
			}
		}
	}

	index, graph := snap.Index(), snap.Graph()
	if len(result.Swept) > 0 {
		index = BuildCapabilityIndex(resources, now, e.cfg.Confidence.RecencyWindow)
		graph = AnalyzeDependencies(resources, e.cfg.Graph)
	}
	next := derive(snap, resources, index, graph)
	next.Stats.TotalResources = len(resources)
	e.publish(next)

	e.logger.Info("Registry cleanup complete", map[string]interface{}{
		"operation": "registry_cleanup",
		"marked":    len(result.Marked),
		"swept":     len(result.Swept),
		"unmarked":  len(result.Unmarked),
	})
	return result, nil
}

// applyTombstones drops swept resources from a fresh build unless upstream
// has seen them since. When complete is set the build reflects every
// source, so tombstones for ids upstream no longer lists are released.
// Callers hold writeMu.
func (e *Engine) applyTombstones(resources map[string]*core.Resource, complete bool) {
	for id, seen := range e.tombstones {
		r, ok := resources[id]
		if !ok {
			if complete {
				delete(e.tombstones, id)
			}
			continue
		}
		if r.LastSeenAt.After(seen) {
			delete(e.tombstones, id)
			continue
		}
		delete(resources, id)
	}
}
