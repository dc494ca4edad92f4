// Package annotation supplies optional natural-language insights for
// discovery results.
//
// Annotation is best effort. The registry wraps every Provider in a Guard,
// which bounds each call by a timeout and turns any failure into an empty
// result, so a slow or broken provider can never fail a discovery query.
package annotation

import (
	"context"
)

// Subject says what a Request describes.
type Subject string

const (
	SubjectCapability Subject = "capability"
	SubjectResource   Subject = "resource"
)

// Request is the context handed to a Provider for one discovery item.
type Request struct {
	Subject Subject `json:"subject"`

	// Capability subjects
	Capability string   `json:"capability,omitempty"`
	Providers  []string `json:"providers,omitempty"`

	// Resource subjects
	ResourceID       string   `json:"resourceId,omitempty"`
	Kind             string   `json:"kind,omitempty"`
	Capabilities     []string `json:"capabilities,omitempty"`
	ComplianceStatus string   `json:"complianceStatus,omitempty"`
	Dependencies     []string `json:"dependencies,omitempty"`
	Dependents       []string `json:"dependents,omitempty"`

	// Context is the caller-supplied "context" filter, passed through verbatim.
	Context interface{} `json:"context,omitempty"`
}

// CapabilityInsights annotates one capability entry.
type CapabilityInsights struct {
	RelevanceScore          float64  `json:"relevanceScore"`
	OptimizationSuggestions []string `json:"optimizationSuggestions"`
	UsagePatterns           string   `json:"usagePatterns"`
	RecommendedUsage        string   `json:"recommendedUsage,omitempty"`
}

// ResourceInsights annotates one resource summary.
type ResourceInsights struct {
	UtilizationScore      float64  `json:"utilizationScore"`
	OptimizationPotential string   `json:"optimizationPotential"`
	RecommendedActions    []string `json:"recommendedActions"`
}

// Insights is what a Provider returns. Only the part matching the request
// subject is expected to be set; a nil part means "no insight".
type Insights struct {
	Capability *CapabilityInsights `json:"capability,omitempty"`
	Resource   *ResourceInsights   `json:"resource,omitempty"`
}

// Empty reports whether the provider returned nothing usable.
func (i Insights) Empty() bool {
	return i.Capability == nil && i.Resource == nil
}

// Provider annotates discovery items.
type Provider interface {
	Annotate(ctx context.Context, req Request) (Insights, error)
}

// DefaultCapabilityInsights is the neutral annotation used when a provider
// is disabled or fails.
func DefaultCapabilityInsights() CapabilityInsights {
	return CapabilityInsights{
		RelevanceScore:          0.7,
		OptimizationSuggestions: []string{},
		UsagePatterns:           "standard",
	}
}

// DefaultResourceInsights is the neutral resource annotation.
func DefaultResourceInsights() ResourceInsights {
	return ResourceInsights{
		UtilizationScore:      0.7,
		OptimizationPotential: "medium",
		RecommendedActions:    []string{},
	}
}

// NoOp is the disabled provider.
type NoOp struct{}

// Annotate returns empty insights.
func (NoOp) Annotate(ctx context.Context, req Request) (Insights, error) {
	return Insights{}, nil
}
