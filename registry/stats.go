package registry

import (
	"time"

	"github.com/itsneelabh/ordregistry/core"
)

// RegistryHealth combines compliance and liveness into one score.
type RegistryHealth struct {
	ComplianceRatio float64 `json:"complianceRatio"`
	ActiveRatio     float64 `json:"activeRatio"`
	OverallScore    float64 `json:"overallScore"`
}

// CapabilityCoverage describes how well capabilities are provided.
type CapabilityCoverage struct {
	TotalCapabilities int     `json:"totalCapabilities"`
	WellCovered       int     `json:"wellCovered"`
	CoverageRatio     float64 `json:"coverageRatio"`
}

// ComplianceSummary counts resources per compliance status.
type ComplianceSummary struct {
	Total                int     `json:"total"`
	Compliant            int     `json:"compliant"`
	NonCompliant         int     `json:"nonCompliant"`
	Pending              int     `json:"pending"`
	CompliancePercentage float64 `json:"compliancePercentage"`
}

// Stats is the read-only health view of the latest snapshot.
type Stats struct {
	Generation         uint64             `json:"generation"`
	TotalResources     int                `json:"totalResources"`
	ActiveAgents       int                `json:"activeAgents"`
	FunctionEndpoints  int                `json:"functionEndpoints"`
	LastUpdated        time.Time          `json:"lastUpdated"`
	ComplianceRatio    float64            `json:"complianceRatio"`
	RegistryHealth     RegistryHealth     `json:"registryHealth"`
	CapabilityCoverage CapabilityCoverage `json:"capabilityCoverage"`
	DependencyMetrics  GraphMetrics       `json:"dependencyMetrics"`
	ComplianceSummary  ComplianceSummary  `json:"complianceSummary"`
	Degraded           []string           `json:"degraded"`
}

// wellCoveredProviders is the provider count at which a capability counts as well covered.
const wellCoveredProviders = 2

// computeStats derives Stats from snap. Ratios over an empty catalog are 0.
func computeStats(snap *Snapshot) Stats {
	var summary ComplianceSummary
	active := 0
	snap.each(func(r *core.Resource) {
		summary.Total++
		switch r.ComplianceStatus {
		case core.ComplianceCompliant:
			summary.Compliant++
		case core.ComplianceNonCompliant:
			summary.NonCompliant++
		default:
			summary.Pending++
		}
		if r.Status == core.StatusActive {
			active++
		}
	})

	complianceRatio := ratio(summary.Compliant, summary.Total)
	activeRatio := ratio(active, summary.Total)
	summary.CompliancePercentage = roundScore(complianceRatio * 100)

	coverage := CapabilityCoverage{TotalCapabilities: snap.Index().Len()}
	for _, e := range snap.Index().Entries() {
		if len(e.Providers) >= wellCoveredProviders {
			coverage.WellCovered++
		}
	}
	coverage.CoverageRatio = ratio(coverage.WellCovered, coverage.TotalCapabilities)

	return Stats{
		Generation:        snap.Generation,
		TotalResources:    snap.Len(),
		ActiveAgents:      snap.Stats.ActiveAgents,
		FunctionEndpoints: snap.Stats.FunctionEndpoints,
		LastUpdated:       snap.Stats.LastUpdated,
		ComplianceRatio:   complianceRatio,
		RegistryHealth: RegistryHealth{
			ComplianceRatio: complianceRatio,
			ActiveRatio:     activeRatio,
			OverallScore:    roundScore(0.7*complianceRatio + 0.3*activeRatio),
		},
		CapabilityCoverage: coverage,
		DependencyMetrics:  snap.Graph().Metrics(),
		ComplianceSummary:  summary,
		Degraded:           append([]string{}, snap.Degraded...),
	}
}

func ratio(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return roundScore(float64(n) / float64(total))
}
