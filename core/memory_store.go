package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-memory implementation of ResourceStore.
// It is the default store for local runs and the fixture store for tests.
type MemoryStore struct {
	mu        sync.RWMutex
	resources map[string]*Resource
	agents    map[string]*AgentRecord
	marked    map[string]bool
	logger    Logger
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		resources: make(map[string]*Resource),
		agents:    make(map[string]*AgentRecord),
		marked:    make(map[string]bool),
		logger:    &NoOpLogger{},
	}
}

// SetLogger configures the logger for this store
func (m *MemoryStore) SetLogger(logger Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// ListResources returns copies of all registrations ordered by id.
func (m *MemoryStore) ListResources(ctx context.Context) ([]*Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Resource, 0, len(m.resources))
	for _, r := range m.resources {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	m.logger.Debug("Listed resources", map[string]interface{}{
		"operation": "store_list_resources",
		"count":     len(out),
	})
	return out, nil
}

// ListAgentRecords returns copies of all agent records ordered by agent id.
func (m *MemoryStore) ListAgentRecords(ctx context.Context) ([]*AgentRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*AgentRecord, 0, len(m.agents))
	for _, a := range m.agents {
		rec := *a
		rec.Capabilities = cloneStrings(a.Capabilities)
		out = append(out, &rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })

	m.logger.Debug("Listed agent records", map[string]interface{}{
		"operation": "store_list_agents",
		"count":     len(out),
	})
	return out, nil
}

// UpsertResource stores the registration fields of resource.
func (m *MemoryStore) UpsertResource(ctx context.Context, resource *Resource) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if resource == nil || resource.ID == "" {
		return fmt.Errorf("resource id is required: %w", ErrInvalidResource)
	}
	reg := resource.Clone()
	reg.resetDerived()

	m.mu.Lock()
	m.resources[reg.ID] = reg
	delete(m.marked, reg.ID)
	m.mu.Unlock()

	m.logger.Debug("Resource upserted", map[string]interface{}{
		"operation":   "store_upsert",
		"resource_id": reg.ID,
	})
	return nil
}

// PutAgentRecord stores or replaces an agent record.
func (m *MemoryStore) PutAgentRecord(rec *AgentRecord) {
	cp := *rec
	cp.Capabilities = cloneStrings(rec.Capabilities)
	m.mu.Lock()
	m.agents[cp.AgentID] = &cp
	m.mu.Unlock()
}

// DeleteResource removes a registration and any agent record with the same id.
func (m *MemoryStore) DeleteResource(id string) {
	m.mu.Lock()
	delete(m.resources, id)
	delete(m.agents, id)
	delete(m.marked, id)
	m.mu.Unlock()
}

// FetchFreshness implements FreshnessSource. Agent records win over
// registrations since they carry the live status.
func (m *MemoryStore) FetchFreshness(ctx context.Context, ids []string) (map[string]Freshness, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Freshness, len(ids))
	for _, id := range ids {
		var f Freshness
		found := false
		if r, ok := m.resources[id]; ok {
			f = Freshness{LastSeenAt: r.LastSeenAt, Status: r.Status}
			found = true
		}
		if a, ok := m.agents[id]; ok {
			if a.LastSeenAt.After(f.LastSeenAt) {
				f.LastSeenAt = a.LastSeenAt
			}
			f.Status = a.Status
			found = true
		}
		if found {
			out[id] = f
		}
	}
	return out, nil
}

// MarkForCleanup implements CleanupMarker.
func (m *MemoryStore) MarkForCleanup(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.marked[id] = true
	m.mu.Unlock()
	return nil
}

// IsMarked reports whether id was marked for cleanup and not re-registered since.
func (m *MemoryStore) IsMarked(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.marked[id]
}
