package core

import (
	"time"
)

// ResourceKind is the registration category of a resource.
type ResourceKind string

const (
	KindAgent       ResourceKind = "agent"
	KindFunction    ResourceKind = "function"
	KindDataProduct ResourceKind = "data-product"
)

// Valid reports whether k is one of the known kinds.
func (k ResourceKind) Valid() bool {
	switch k {
	case KindAgent, KindFunction, KindDataProduct:
		return true
	}
	return false
}

// ResourceStatus is the lifecycle flag reported by the live agent record.
type ResourceStatus string

const (
	StatusActive   ResourceStatus = "active"
	StatusInactive ResourceStatus = "inactive"
)

// ComplianceStatus is derived by the compliance validator and never read from upstream.
type ComplianceStatus string

const (
	CompliancePending      ComplianceStatus = "pending"
	ComplianceCompliant    ComplianceStatus = "compliant"
	ComplianceNonCompliant ComplianceStatus = "non_compliant"
)

// CapabilitySet groups the capability strings a resource declares.
// Inputs and outputs are both indexed as capabilities.
type CapabilitySet struct {
	Inputs    []string `json:"input_types,omitempty" yaml:"input_types,omitempty"`
	Outputs   []string `json:"output_types,omitempty" yaml:"output_types,omitempty"`
	Protocols []string `json:"protocols,omitempty" yaml:"protocols,omitempty"`
	Discovery []string `json:"discovery,omitempty" yaml:"discovery,omitempty"`
}

// IsEmpty reports whether no group declares anything.
func (c *CapabilitySet) IsEmpty() bool {
	return c == nil ||
		(len(c.Inputs) == 0 && len(c.Outputs) == 0 && len(c.Protocols) == 0 && len(c.Discovery) == 0)
}

// Names returns the de-duplicated union of inputs and outputs, inputs first.
func (c *CapabilitySet) Names() []string {
	if c == nil {
		return nil
	}
	return uniqueStrings(append(append([]string(nil), c.Inputs...), c.Outputs...))
}

// Clone returns a deep copy.
func (c *CapabilitySet) Clone() *CapabilitySet {
	if c == nil {
		return nil
	}
	return &CapabilitySet{
		Inputs:    cloneStrings(c.Inputs),
		Outputs:   cloneStrings(c.Outputs),
		Protocols: cloneStrings(c.Protocols),
		Discovery: cloneStrings(c.Discovery),
	}
}

// ComplianceMetadata is the ORD compliance block of a registration.
type ComplianceMetadata struct {
	Version   string   `json:"version" yaml:"version"`
	Standards []string `json:"standards,omitempty" yaml:"standards,omitempty"`
}

// Resource is the unit of registration.
//
// The fields down to LastSeenAt come from upstream. The remaining fields are
// derived by the registry and are only ever set on snapshot copies.
type Resource struct {
	ID           string              `json:"id"`
	Kind         ResourceKind        `json:"resource_type,omitempty"`
	Name         string              `json:"resource_name,omitempty"`
	Path         string              `json:"resource_path,omitempty"`
	Capabilities *CapabilitySet      `json:"capabilities,omitempty"`
	Dependencies []string            `json:"dependencies,omitempty"`
	Compliance   *ComplianceMetadata `json:"ord_compliance,omitempty"`
	Status       ResourceStatus      `json:"status,omitempty"`
	LastSeenAt   time.Time           `json:"last_seen_at"`

	// Derived
	ComplianceStatus  ComplianceStatus `json:"compliance_status,omitempty"`
	LastValidatedAt   *time.Time       `json:"last_validated_at,omitempty"`
	LastRefreshedAt   *time.Time       `json:"last_refreshed_at,omitempty"`
	AgentType         string           `json:"agent_type,omitempty"`
	AgentCapabilities []string         `json:"agent_capabilities,omitempty"`
	Registered        bool             `json:"registered"`
	FullyRegistered   bool             `json:"full_registration"`
	NeedsRegistration bool             `json:"needs_registration"`
	Malformed         bool             `json:"malformed,omitempty"`
	ShapeIssues       []string         `json:"shape_issues,omitempty"`
	MarkedForCleanup  bool             `json:"marked_for_cleanup,omitempty"`
}

// EffectiveKind returns the declared kind, treating a missing kind as an agent.
func (r *Resource) EffectiveKind() ResourceKind {
	if r.Kind == "" {
		return KindAgent
	}
	return r.Kind
}

// IndexedCapabilities returns the capability strings used for indexing.
// Registrations contribute inputs and outputs; agent-only records fall back
// to the capabilities advertised by the live agent.
func (r *Resource) IndexedCapabilities() []string {
	if names := r.Capabilities.Names(); len(names) > 0 {
		return names
	}
	return uniqueStrings(cloneStrings(r.AgentCapabilities))
}

// Clone returns a deep copy so a snapshot can be derived without mutating its parent.
func (r *Resource) Clone() *Resource {
	if r == nil {
		return nil
	}
	out := *r
	out.Capabilities = r.Capabilities.Clone()
	out.Dependencies = cloneStrings(r.Dependencies)
	out.AgentCapabilities = cloneStrings(r.AgentCapabilities)
	out.ShapeIssues = cloneStrings(r.ShapeIssues)
	if r.Compliance != nil {
		c := *r.Compliance
		c.Standards = cloneStrings(r.Compliance.Standards)
		out.Compliance = &c
	}
	if r.LastValidatedAt != nil {
		t := *r.LastValidatedAt
		out.LastValidatedAt = &t
	}
	if r.LastRefreshedAt != nil {
		t := *r.LastRefreshedAt
		out.LastRefreshedAt = &t
	}
	return &out
}

// AgentRecord is the live record an agent publishes about itself.
type AgentRecord struct {
	AgentID      string         `json:"agent_id"`
	AgentType    string         `json:"agent_type,omitempty"`
	Status       ResourceStatus `json:"status"`
	Capabilities []string       `json:"capabilities,omitempty"`
	LastSeenAt   time.Time      `json:"last_seen_at"`
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func uniqueStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
