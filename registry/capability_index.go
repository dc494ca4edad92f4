package registry

import (
	"math"
	"sort"
	"time"

	"github.com/itsneelabh/ordregistry/core"
)

// Provider is one resource offering a capability.
type Provider struct {
	ResourceID string            `json:"resourceId"`
	Kind       core.ResourceKind `json:"kind"`
	AgentType  string            `json:"agentType,omitempty"`
	Confidence float64           `json:"confidence"`
}

// CapabilityEntry lists the providers of one capability in resource id order.
type CapabilityEntry struct {
	Capability string     `json:"capability"`
	Providers  []Provider `json:"providers"`
}

// CapabilityIndex maps capability strings to their providers.
type CapabilityIndex struct {
	entries map[string]*CapabilityEntry
	names   []string
}

// Confidence scores how reliable a capability-provider mapping is.
//
//	base 0.5
//	+0.2 registered in the store (not only a live agent record)
//	+0.2 status is active
//	+0.1 seen within the recency window
//
// capped at 1.0 and rounded to two decimals. The score is advisory.
func Confidence(r *core.Resource, now time.Time, recencyWindow time.Duration) float64 {
	c := 0.5
	if r.Registered {
		c += 0.2
	}
	if r.Status == core.StatusActive {
		c += 0.2
	}
	if !r.LastSeenAt.IsZero() && now.Sub(r.LastSeenAt) <= recencyWindow {
		c += 0.1
	}
	c = math.Round(c*100) / 100
	if c > 1.0 {
		c = 1.0
	}
	return c
}

// BuildCapabilityIndex indexes every well-formed resource under each
// capability it declares. A resource appears at most once per capability.
func BuildCapabilityIndex(resources map[string]*core.Resource, now time.Time, recencyWindow time.Duration) *CapabilityIndex {
	ids := make([]string, 0, len(resources))
	for id := range resources {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	idx := &CapabilityIndex{entries: make(map[string]*CapabilityEntry)}
	for _, id := range ids {
		r := resources[id]
		if r.Malformed {
			continue
		}
		caps := r.IndexedCapabilities()
		if len(caps) == 0 {
			continue
		}
		p := Provider{
			ResourceID: id,
			Kind:       r.EffectiveKind(),
			AgentType:  r.AgentType,
			Confidence: Confidence(r, now, recencyWindow),
		}
		for _, name := range caps {
			e, ok := idx.entries[name]
			if !ok {
				e = &CapabilityEntry{Capability: name}
				idx.entries[name] = e
				idx.names = append(idx.names, name)
			}
			e.Providers = append(e.Providers, p)
		}
	}
	sort.Strings(idx.names)
	return idx
}

// Len returns the number of distinct capabilities.
func (idx *CapabilityIndex) Len() int {
	return len(idx.names)
}

// Capabilities returns all capability names in ascending order.
func (idx *CapabilityIndex) Capabilities() []string {
	return append([]string(nil), idx.names...)
}

// Lookup returns a copy of the entry for capability.
func (idx *CapabilityIndex) Lookup(capability string) (CapabilityEntry, bool) {
	e, ok := idx.entries[capability]
	if !ok {
		return CapabilityEntry{}, false
	}
	return CapabilityEntry{
		Capability: e.Capability,
		Providers:  append([]Provider(nil), e.Providers...),
	}, true
}

// Entries returns copies of all entries in capability order.
func (idx *CapabilityIndex) Entries() []CapabilityEntry {
	out := make([]CapabilityEntry, 0, len(idx.names))
	for _, name := range idx.names {
		e, _ := idx.Lookup(name)
		out = append(out, e)
	}
	return out
}
