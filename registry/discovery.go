package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/itsneelabh/ordregistry/annotation"
	"github.com/itsneelabh/ordregistry/core"
)

// DiscoveryType selects the projection a Query reads.
type DiscoveryType string

const (
	DiscoverCapabilities DiscoveryType = "capabilities"
	DiscoverResources    DiscoveryType = "resources"
	DiscoverDependencies DiscoveryType = "dependencies"
	DiscoverAgents       DiscoveryType = "agents"
)

// ParseDiscoveryType validates s.
func ParseDiscoveryType(s string) (DiscoveryType, error) {
	switch t := DiscoveryType(strings.ToLower(strings.TrimSpace(s))); t {
	case DiscoverCapabilities, DiscoverResources, DiscoverDependencies, DiscoverAgents:
		return t, nil
	}
	return "", fmt.Errorf("%q: %w", s, core.ErrUnknownDiscoveryType)
}

// Recognized filter keys. The snake_case spellings are accepted as aliases.
const (
	FilterCapabilityContains = "capabilityContains"
	FilterMinConfidence      = "minConfidence"
	FilterKind               = "kind"
	FilterAgentType          = "agentType"
	FilterStatus             = "status"
	FilterComplianceStatus   = "complianceStatus"
	FilterComplianceRequired = "complianceRequired"
	FilterResourceID         = "resourceId"
	FilterContext            = "context"
)

var filterAliases = map[string][]string{
	FilterCapabilityContains: {"capability_type", "capability_contains"},
	FilterMinConfidence:      {"performance_threshold", "min_confidence"},
	FilterKind:               {"resource_type"},
	FilterAgentType:          {"agent_type"},
	FilterComplianceStatus:   {"compliance_status"},
	FilterComplianceRequired: {"compliance_required"},
	FilterResourceID:         {"resource_id"},
}

// Query is one discovery request. Unknown filter keys are ignored.
type Query struct {
	Type    DiscoveryType          `json:"type"`
	Filters map[string]interface{} `json:"filters,omitempty"`
}

// Metadata describes how a Response was produced.
type Metadata struct {
	RequestID       string    `json:"requestId"`
	Generation      uint64    `json:"generation"`
	SnapshotBuiltAt time.Time `json:"snapshotBuiltAt"`
	ItemCount       int       `json:"itemCount"`
	Annotated       bool      `json:"annotated"`
	Degraded        []string  `json:"degraded"`
}

// Response is the result of a discovery query. Items holds a
// []CapabilityResult, []ResourceResult or []DependencyResult depending on Type.
type Response struct {
	Type     DiscoveryType `json:"type"`
	Items    interface{}   `json:"items"`
	Metadata Metadata      `json:"metadata"`
}

// Capabilities returns the items of a capabilities response.
func (r *Response) Capabilities() []CapabilityResult {
	items, _ := r.Items.([]CapabilityResult)
	return items
}

// Resources returns the items of a resources or agents response.
func (r *Response) Resources() []ResourceResult {
	items, _ := r.Items.([]ResourceResult)
	return items
}

// Dependencies returns the items of a dependencies response.
func (r *Response) Dependencies() []DependencyResult {
	items, _ := r.Items.([]DependencyResult)
	return items
}

// CapabilityResult is one capability with its matching providers.
type CapabilityResult struct {
	Capability       string                        `json:"capability"`
	Providers        []Provider                    `json:"providers"`
	TotalProviders   int                           `json:"totalProviders"`
	MatchQuality     float64                       `json:"matchQuality"`
	Insights         annotation.CapabilityInsights `json:"insights"`
	RecommendedUsage string                        `json:"recommendedUsage"`
}

// ResourceResult summarizes one cached resource.
type ResourceResult struct {
	ResourceID        string                      `json:"resourceId"`
	Kind              core.ResourceKind           `json:"kind"`
	Name              string                      `json:"name,omitempty"`
	Path              string                      `json:"path,omitempty"`
	Capabilities      *core.CapabilitySet         `json:"capabilities,omitempty"`
	AgentType         string                      `json:"agentType,omitempty"`
	AgentCapabilities []string                    `json:"agentCapabilities,omitempty"`
	Status            core.ResourceStatus         `json:"status,omitempty"`
	ComplianceStatus  core.ComplianceStatus       `json:"complianceStatus"`
	LastValidatedAt   *time.Time                  `json:"lastValidatedAt,omitempty"`
	FullyRegistered   bool                        `json:"fullyRegistered"`
	NeedsRegistration bool                        `json:"needsRegistration"`
	Malformed         bool                        `json:"malformed,omitempty"`
	Insights          annotation.ResourceInsights `json:"insights"`
}

// DependencyResult carries either one node or the aggregate metrics.
type DependencyResult struct {
	Node    *DependencyNode `json:"node,omitempty"`
	Metrics *GraphMetrics   `json:"metrics,omitempty"`
}

// MatchQuality scores how well a capability matches a query.
//
//	base 0.5
//	+0.3 name contains the requested substring
//	+0.1 more than one provider
//	+0.1 more than three providers
func MatchQuality(capability, contains string, providers int) float64 {
	q := 0.5
	if contains != "" && strings.Contains(capability, contains) {
		q += 0.3
	}
	if providers > 1 {
		q += 0.1
	}
	if providers > 3 {
		q += 0.1
	}
	q = roundScore(q)
	if q > 1.0 {
		q = 1.0
	}
	return q
}

// annotationLimit bounds concurrent annotation calls per query.
const annotationLimit = 8

// annotationStep bounds the whole annotation fan-out of one query by a single
// annotation timeout. Items not reached by then keep their defaults.
func (e *Engine) annotationStep(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := e.cfg.Annotation.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

// discover answers q against snap. It never modifies snap.
func (e *Engine) discover(ctx context.Context, snap *Snapshot, q Query) (*Response, error) {
	f := filters(q.Filters)
	resp := &Response{
		Type: q.Type,
		Metadata: Metadata{
			RequestID:       uuid.New().String(),
			Generation:      snap.Generation,
			SnapshotBuiltAt: snap.BuiltAt,
			Degraded:        append([]string{}, snap.Degraded...),
		},
	}

	var (
		n                   int
		annotated, degraded bool
	)
	switch q.Type {
	case DiscoverCapabilities:
		items := e.discoverCapabilities(snap, f)
		annotated, degraded = e.annotateCapabilities(ctx, items, f)
		resp.Items, n = items, len(items)
	case DiscoverResources, DiscoverAgents:
		items := e.discoverResources(snap, f, q.Type == DiscoverAgents)
		annotated, degraded = e.annotateResources(ctx, snap, items, f)
		resp.Items, n = items, len(items)
	case DiscoverDependencies:
		items, err := discoverDependencies(snap, f)
		if err != nil {
			return nil, err
		}
		resp.Items, n = items, len(items)
	default:
		return nil, &core.RegistryError{
			Op:   "registry.Discover",
			Kind: "discovery",
			Err:  fmt.Errorf("%q: %w", q.Type, core.ErrUnknownDiscoveryType),
		}
	}

	resp.Metadata.ItemCount = n
	resp.Metadata.Annotated = annotated
	if degraded {
		resp.Metadata.Degraded = append(resp.Metadata.Degraded, "annotation")
	}
	return resp, nil
}

func (e *Engine) discoverCapabilities(snap *Snapshot, f filters) []CapabilityResult {
	contains, _ := f.str(FilterCapabilityContains)
	minConf, hasMin := f.float(FilterMinConfidence)
	kind, _ := f.str(FilterKind)
	agentType, _ := f.str(FilterAgentType)

	results := []CapabilityResult{}
	for _, entry := range snap.Index().Entries() {
		if contains != "" && !strings.Contains(entry.Capability, contains) {
			continue
		}
		matched := make([]Provider, 0, len(entry.Providers))
		for _, p := range entry.Providers {
			if kind != "" && string(p.Kind) != kind {
				continue
			}
			if agentType != "" && p.AgentType != agentType {
				continue
			}
			if hasMin && p.Confidence < minConf {
				continue
			}
			matched = append(matched, p)
		}
		if len(matched) == 0 {
			continue
		}
		results = append(results, CapabilityResult{
			Capability:       entry.Capability,
			Providers:        matched,
			TotalProviders:   len(matched),
			MatchQuality:     MatchQuality(entry.Capability, contains, len(entry.Providers)),
			Insights:         annotation.DefaultCapabilityInsights(),
			RecommendedUsage: "standard",
		})
	}

	// Entries arrive in name order, so ties stay alphabetical.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].TotalProviders > results[j].TotalProviders
	})
	return results
}

func (e *Engine) discoverResources(snap *Snapshot, f filters, agentsOnly bool) []ResourceResult {
	kind, _ := f.str(FilterKind)
	if agentsOnly {
		kind = string(core.KindAgent)
	}
	status, _ := f.str(FilterStatus)
	complianceStatus, _ := f.str(FilterComplianceStatus)
	required, _ := f.boolean(FilterComplianceRequired)
	agentType, _ := f.str(FilterAgentType)

	results := []ResourceResult{}
	snap.each(func(r *core.Resource) {
		if kind != "" && string(r.EffectiveKind()) != kind {
			return
		}
		if status != "" && string(r.Status) != status {
			return
		}
		if complianceStatus != "" && string(r.ComplianceStatus) != complianceStatus {
			return
		}
		if required && r.ComplianceStatus != core.ComplianceCompliant {
			return
		}
		if agentType != "" && r.AgentType != agentType {
			return
		}
		results = append(results, summarize(r))
	})
	return results
}

func summarize(r *core.Resource) ResourceResult {
	res := ResourceResult{
		ResourceID:        r.ID,
		Kind:              r.EffectiveKind(),
		Name:              r.Name,
		Path:              r.Path,
		Capabilities:      r.Capabilities.Clone(),
		AgentType:         r.AgentType,
		AgentCapabilities: append([]string(nil), r.AgentCapabilities...),
		Status:            r.Status,
		ComplianceStatus:  r.ComplianceStatus,
		FullyRegistered:   r.FullyRegistered,
		NeedsRegistration: r.NeedsRegistration,
		Malformed:         r.Malformed,
		Insights:          annotation.DefaultResourceInsights(),
	}
	if r.LastValidatedAt != nil {
		t := *r.LastValidatedAt
		res.LastValidatedAt = &t
	}
	return res
}

func discoverDependencies(snap *Snapshot, f filters) ([]DependencyResult, error) {
	id, ok := f.str(FilterResourceID)
	if !ok || id == "" {
		m := snap.Graph().Metrics()
		return []DependencyResult{{Metrics: &m}}, nil
	}
	node, ok := snap.Graph().Node(id)
	if !ok {
		return nil, &core.RegistryError{
			Op:   "registry.Discover",
			Kind: "not_found",
			ID:   id,
			Err:  core.ErrResourceNotFound,
		}
	}
	return []DependencyResult{{Node: &node}}, nil
}

// annotateCapabilities fills in provider insights where available. Each
// goroutine writes only its own item.
func (e *Engine) annotateCapabilities(ctx context.Context, items []CapabilityResult, f filters) (annotated, degraded bool) {
	if len(items) == 0 || !e.annotationEnabled {
		return false, false
	}
	ok := make([]bool, len(items))
	failed := make([]bool, len(items))
	userContext := f[FilterContext]

	ctx, cancel := e.annotationStep(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(annotationLimit)
	for i := range items {
		i := i
		g.Go(func() error {
			if gctx.Err() != nil {
				failed[i] = true
				return nil
			}
			ids := make([]string, len(items[i].Providers))
			for j, p := range items[i].Providers {
				ids[j] = p.ResourceID
			}
			insights, err := e.annotator.Annotate(gctx, annotation.Request{
				Subject:    annotation.SubjectCapability,
				Capability: items[i].Capability,
				Providers:  ids,
				Context:    userContext,
			})
			if err != nil {
				failed[i] = true
				return nil
			}
			if insights.Capability != nil {
				items[i].Insights = *insights.Capability
				if insights.Capability.RecommendedUsage != "" {
					items[i].RecommendedUsage = insights.Capability.RecommendedUsage
				}
				ok[i] = true
			}
			return nil
		})
	}
	_ = g.Wait()
	return anyTrue(ok), anyTrue(failed)
}

func (e *Engine) annotateResources(ctx context.Context, snap *Snapshot, items []ResourceResult, f filters) (annotated, degraded bool) {
	if len(items) == 0 || !e.annotationEnabled {
		return false, false
	}
	ok := make([]bool, len(items))
	failed := make([]bool, len(items))
	userContext := f[FilterContext]

	ctx, cancel := e.annotationStep(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(annotationLimit)
	for i := range items {
		i := i
		g.Go(func() error {
			if gctx.Err() != nil {
				failed[i] = true
				return nil
			}
			req := annotation.Request{
				Subject:          annotation.SubjectResource,
				ResourceID:       items[i].ResourceID,
				Kind:             string(items[i].Kind),
				ComplianceStatus: string(items[i].ComplianceStatus),
				Context:          userContext,
			}
			if r, found := snap.Resource(items[i].ResourceID); found {
				req.Capabilities = r.IndexedCapabilities()
			}
			if node, found := snap.Graph().Node(items[i].ResourceID); found {
				req.Dependencies = node.Dependencies
				req.Dependents = node.Dependents
			}
			insights, err := e.annotator.Annotate(gctx, req)
			if err != nil {
				failed[i] = true
				return nil
			}
			if insights.Resource != nil {
				items[i].Insights = *insights.Resource
				ok[i] = true
			}
			return nil
		})
	}
	_ = g.Wait()
	return anyTrue(ok), anyTrue(failed)
}

func anyTrue(xs []bool) bool {
	for _, x := range xs {
		if x {
			return true
		}
	}
	return false
}

// filters reads loosely typed filter values, resolving key aliases.
type filters map[string]interface{}

func (f filters) lookup(key string) (interface{}, bool) {
	if v, ok := f[key]; ok && v != nil {
		return v, true
	}
	for _, alias := range filterAliases[key] {
		if v, ok := f[alias]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func (f filters) str(key string) (string, bool) {
	v, ok := f.lookup(key)
	if !ok {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case fmt.Stringer:
		return t.String(), true
	default:
		return fmt.Sprint(t), true
	}
}

func (f filters) float(key string) (float64, bool) {
	v, ok := f.lookup(key)
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		n, err := t.Float64()
		return n, err == nil
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return n, err == nil
	}
	return 0, false
}

func (f filters) boolean(key string) (bool, bool) {
	v, ok := f.lookup(key)
	if !ok {
		return false, false
	}
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return b, err == nil
	case float64:
		return t != 0, true
	case int:
		return t != 0, true
	}
	return false, false
}

func roundScore(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
