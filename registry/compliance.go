package registry

import (
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"

	"github.com/itsneelabh/ordregistry/core"
)

// Issue strings produced by the fixed rule set.
const (
	IssueMissingKind         = "Missing resource_type"
	IssueMissingName         = "Missing resource_name"
	IssueMissingCapabilities = "Missing capabilities"
	IssueMissingCompliance   = "Missing ORD compliance metadata"
	IssueMissingIO           = "Missing input_types or output_types in capabilities"
	IssueMissingProtocols    = "Missing protocols in capabilities"
)

// ValidationResult is the outcome of checking one resource.
type ValidationResult struct {
	ResourceID  string    `json:"resourceId"`
	Compliant   bool      `json:"compliant"`
	Issues      []string  `json:"issues"`
	ValidatedAt time.Time `json:"validatedAt"`
}

// ComplianceReport summarizes a validation pass.
type ComplianceReport struct {
	ID           string              `json:"id"`
	GeneratedAt  time.Time           `json:"generatedAt"`
	Generation   uint64              `json:"generation"`
	Total        int                 `json:"total"`
	Compliant    int                 `json:"compliant"`
	NonCompliant int                 `json:"nonCompliant"`
	Issues       map[string][]string `json:"issues"`
	Results      []ValidationResult  `json:"results"`
}

// Validator applies the compliance rule checklist. It holds no state beyond
// its configuration and is safe for concurrent use.
type Validator struct {
	schemaVersion string
}

// NewValidator creates a validator that requires schemaVersion exactly.
func NewValidator(schemaVersion string) *Validator {
	return &Validator{schemaVersion: strings.TrimSpace(schemaVersion)}
}

// SchemaVersion returns the required compliance schema version.
func (v *Validator) SchemaVersion() string {
	return v.schemaVersion
}

// Check returns the issues found on r, in rule order. Shape issues recorded
// when the record was decoded come first.
func (v *Validator) Check(r *core.Resource) []string {
	issues := make([]string, 0, 4)
	issues = append(issues, r.ShapeIssues...)

	if r.Kind == "" {
		issues = append(issues, IssueMissingKind)
	}
	if strings.TrimSpace(r.Name) == "" {
		issues = append(issues, IssueMissingName)
	}
	if r.Capabilities.IsEmpty() {
		issues = append(issues, IssueMissingCapabilities)
	}

	if r.Compliance == nil {
		issues = append(issues, IssueMissingCompliance)
	} else if got := strings.TrimSpace(r.Compliance.Version); got != v.schemaVersion {
		issues = append(issues, v.versionMismatch(got))
	}

	if !r.Capabilities.IsEmpty() {
		if len(r.Capabilities.Inputs) == 0 && len(r.Capabilities.Outputs) == 0 {
			issues = append(issues, IssueMissingIO)
		}
		if len(r.Capabilities.Protocols) == 0 {
			issues = append(issues, IssueMissingProtocols)
		}
	}
	return issues
}

// versionMismatch describes a failed exact-match check. When both versions
// parse, the direction is appended for operators; equality stays exact.
func (v *Validator) versionMismatch(got string) string {
	shown := got
	if shown == "" {
		shown = "none"
	}
	msg := fmt.Sprintf("ORD version mismatch: expected %s, got %s", v.schemaVersion, shown)

	want, err := semver.NewVersion(v.schemaVersion)
	if err != nil || got == "" {
		return msg
	}
	have, err := semver.NewVersion(got)
	if err != nil {
		return msg
	}
	switch have.Compare(want) {
	case -1:
		return msg + " (older)"
	case 1:
		return msg + " (newer)"
	default:
		return msg + " (equivalent, exact match required)"
	}
}

// Validate checks r and stamps the result with at.
func (v *Validator) Validate(r *core.Resource, at time.Time) ValidationResult {
	issues := v.Check(r)
	return ValidationResult{
		ResourceID:  r.ID,
		Compliant:   len(issues) == 0,
		Issues:      issues,
		ValidatedAt: at,
	}
}

// apply returns a clone of r carrying the status of res.
func (res ValidationResult) apply(r *core.Resource) *core.Resource {
	c := r.Clone()
	at := res.ValidatedAt
	c.LastValidatedAt = &at
	if res.Compliant {
		c.ComplianceStatus = core.ComplianceCompliant
	} else {
		c.ComplianceStatus = core.ComplianceNonCompliant
	}
	return c
}

func newComplianceReport(generation uint64, at time.Time, results []ValidationResult) *ComplianceReport {
	report := &ComplianceReport{
		ID:          uuid.New().String(),
		GeneratedAt: at,
		Generation:  generation,
		Total:       len(results),
		Issues:      make(map[string][]string),
		Results:     results,
	}
	for _, res := range results {
		if res.Compliant {
			report.Compliant++
			continue
		}
		report.NonCompliant++
		report.Issues[res.ResourceID] = res.Issues
	}
	return report
}
