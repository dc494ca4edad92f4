package registry

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/itsneelabh/ordregistry/core"
)

// CacheStats are computed as a side effect of each rebuild.
type CacheStats struct {
	TotalResources    int       `json:"totalResources"`
	ActiveAgents      int       `json:"activeAgents"`
	FunctionEndpoints int       `json:"functionEndpoints"`
	LastUpdated       time.Time `json:"lastUpdated"`
}

// Snapshot is one immutable view of the catalog. Nothing reachable from a
// published Snapshot is ever mutated.
type Snapshot struct {
	Generation uint64
	BuiltAt    time.Time
	Stats      CacheStats

	// Degraded lists the upstream sources that were served from
	// last-known-good data when this snapshot's cache was built.
	Degraded []string

	resources map[string]*core.Resource
	ids       []string
	index     *CapabilityIndex
	graph     *DependencyGraph
}

func newSnapshot(resources map[string]*core.Resource, index *CapabilityIndex, graph *DependencyGraph) *Snapshot {
	ids := make([]string, 0, len(resources))
	for id := range resources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return &Snapshot{
		resources: resources,
		ids:       ids,
		index:     index,
		graph:     graph,
	}
}

// Resource returns the cached resource with id. The result must not be modified.
func (s *Snapshot) Resource(id string) (*core.Resource, bool) {
	r, ok := s.resources[id]
	return r, ok
}

// ResourceIDs returns all cached ids in ascending order.
func (s *Snapshot) ResourceIDs() []string {
	return append([]string(nil), s.ids...)
}

// Len returns the number of cached resources.
func (s *Snapshot) Len() int {
	return len(s.ids)
}

// Index returns the capability index derived from this snapshot.
func (s *Snapshot) Index() *CapabilityIndex {
	return s.index
}

// Graph returns the dependency graph derived from this snapshot.
func (s *Snapshot) Graph() *DependencyGraph {
	return s.graph
}

// each calls fn for every resource in id order.
func (s *Snapshot) each(fn func(*core.Resource)) {
	for _, id := range s.ids {
		fn(s.resources[id])
	}
}

// withResources returns a copy of the resource map in which every non-nil
// result of change replaces its original. change must not modify its
// argument; it returns a modified clone or nil.
func (s *Snapshot) withResources(change func(r *core.Resource) *core.Resource) (map[string]*core.Resource, int) {
	out := make(map[string]*core.Resource, len(s.resources))
	changed := 0
	for id, r := range s.resources {
		if c := change(r); c != nil {
			out[id] = c
			changed++
			continue
		}
		out[id] = r
	}
	return out, changed
}

// snapshotHolder publishes snapshots to concurrent readers.
type snapshotHolder struct {
	current atomic.Pointer[Snapshot]
}

func (h *snapshotHolder) load() *Snapshot {
	return h.current.Load()
}

func (h *snapshotHolder) store(s *Snapshot) {
	h.current.Store(s)
}
