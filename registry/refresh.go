package registry

import (
	"context"
	"time"

	"github.com/itsneelabh/ordregistry/core"
	"github.com/itsneelabh/ordregistry/resilience"
)

// RefreshResult reports one metadata refresh pass.
type RefreshResult struct {
	Checked   int `json:"checked"`
	Refreshed int `json:"refreshed"`
	Missing   int `json:"missing"`
}

// NeedsMetadataRefresh reports whether r has never been validated or
// refreshed, or whether the latest of the two is older than interval.
func NeedsMetadataRefresh(r *core.Resource, now time.Time, interval time.Duration) bool {
	var latest time.Time
	if r.LastValidatedAt != nil {
		latest = *r.LastValidatedAt
	}
	if r.LastRefreshedAt != nil && r.LastRefreshedAt.After(latest) {
		latest = *r.LastRefreshedAt
	}
	if latest.IsZero() {
		return true
	}
	return now.Sub(latest) > interval
}

// RefreshMetadata re-fetches the freshness fields (last seen and status) of
// every resource that needs it and publishes a snapshot with a recomputed
// capability index. The dependency graph is unaffected and reused.
func (e *Engine) RefreshMetadata(ctx context.Context) (RefreshResult, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	var result RefreshResult
	snap, err := e.current("registry.RefreshMetadata")
	if err != nil {
		return result, err
	}

	now := e.now()
	var ids []string
	snap.each(func(r *core.Resource) {
		if NeedsMetadataRefresh(r, now, e.cfg.Schedule.RefreshInterval) {
			ids = append(ids, r.ID)
		}
	})
	result.Checked = snap.Len()
	if len(ids) == 0 {
		return result, nil
	}

	fresh, err := e.fetchFreshness(ctx, ids)
	if err != nil {
		e.logger.Warn("Metadata refresh failed, keeping current snapshot", map[string]interface{}{
			"operation": "metadata_refresh",
			"pending":   len(ids),
			"error":     err.Error(),
		})
		return result, &core.RegistryError{Op: "registry.RefreshMetadata", Kind: "store", Err: err}
	}

	pending := make(map[string]bool, len(ids))
	for _, id := range ids {
		pending[id] = true
	}
	resources, changed := snap.withResources(func(r *core.Resource) *core.Resource {
		if !pending[r.ID] {
			return nil
		}
		c := r.Clone()
		at := now
		c.LastRefreshedAt = &at
		f, ok := fresh[r.ID]
		if !ok {
			result.Missing++
			return c
		}
		if f.LastSeenAt.After(c.LastSeenAt) {
			c.LastSeenAt = f.LastSeenAt
		}
		if f.Status != "" {
			c.Status = f.Status
		}
		return c
	})
	result.Refreshed = changed - result.Missing

	index := BuildCapabilityIndex(resources, now, e.cfg.Confidence.RecencyWindow)
	e.publish(derive(snap, resources, index, snap.Graph()))

	e.logger.Info("Metadata refreshed", map[string]interface{}{
		"operation": "metadata_refresh",
		"refreshed": result.Refreshed,
		"missing":   result.Missing,
	})
	return result, nil
}

// fetchFreshness uses the store's lightweight lookup when it has one and
// otherwise derives freshness from full listings.
func (e *Engine) fetchFreshness(ctx context.Context, ids []string) (map[string]core.Freshness, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Store.FetchTimeout)
	defer cancel()

	var out map[string]core.Freshness
	err := resilience.Retry(ctx, resilience.RetryConfigFrom(e.cfg.Resilience), func() error {
		var err error
		if src, ok := e.store.(core.FreshnessSource); ok {
			out, err = src.FetchFreshness(ctx, ids)
			return err
		}
		out, err = e.freshnessFromListings(ctx, ids)
		return err
	})
	return out, err
}

func (e *Engine) freshnessFromListings(ctx context.Context, ids []string) (map[string]core.Freshness, error) {
	resources, err := e.store.ListResources(ctx)
	if err != nil {
		return nil, err
	}
	agents, err := e.store.ListAgentRecords(ctx)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	out := make(map[string]core.Freshness, len(ids))
	for _, r := range resources {
		if wanted[r.ID] {
			out[r.ID] = core.Freshness{LastSeenAt: r.LastSeenAt, Status: r.Status}
		}
	}
	for _, a := range agents {
		if !wanted[a.AgentID] {
			continue
		}
		f := out[a.AgentID]
		f.Status = a.Status
		if a.LastSeenAt.After(f.LastSeenAt) {
			f.LastSeenAt = a.LastSeenAt
		}
		out[a.AgentID] = f
	}
	return out, nil
}
