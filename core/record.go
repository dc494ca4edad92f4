package core

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

//go:embed schema/resource.schema.json
var resourceSchemaBytes []byte

var (
	resourceSchema     *jsonschema.Schema
	resourceSchemaOnce sync.Once
	resourceSchemaErr  error
	schemaPrinter      = message.NewPrinter(language.English)
)

func getResourceSchema() (*jsonschema.Schema, error) {
	resourceSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(resourceSchemaBytes))
		if err != nil {
			resourceSchemaErr = fmt.Errorf("unmarshaling resource schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("resource.schema.json", doc); err != nil {
			resourceSchemaErr = fmt.Errorf("adding resource schema: %w", err)
			return
		}
		resourceSchema, resourceSchemaErr = c.Compile("resource.schema.json")
		if resourceSchemaErr != nil {
			resourceSchemaErr = fmt.Errorf("compiling resource schema: %w", resourceSchemaErr)
		}
	})
	return resourceSchema, resourceSchemaErr
}

// DecodeResource turns a raw upstream registration into a Resource.
//
// A record whose shape violates the resource schema is still returned, with
// Malformed set and the violations in ShapeIssues, so it can surface in
// compliance reports. Only records that are not JSON objects or carry no id
// are rejected with ErrMalformedRecord.
func DecodeResource(data []byte) (*Resource, error) {
	schema, err := getResourceSchema()
	if err != nil {
		return nil, err
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing resource record: %v: %w", err, ErrMalformedRecord)
	}

	var issues []string
	if verr := schema.Validate(inst); verr != nil {
		ve, ok := verr.(*jsonschema.ValidationError)
		if !ok {
			return nil, fmt.Errorf("validating resource record: %w", verr)
		}
		issues = shapeIssues(ve)
	}

	res := &Resource{}
	if err := json.Unmarshal(data, res); err != nil {
		// Typed decode failed; salvage the descriptive string fields.
		res = salvageResource(inst)
		if len(issues) == 0 {
			issues = []string{err.Error()}
		}
	}
	res.resetDerived()

	if res.ID == "" {
		return nil, fmt.Errorf("resource record has no id: %w", ErrMalformedRecord)
	}
	if len(issues) > 0 {
		res.Malformed = true
		res.ShapeIssues = issues
	}
	return res, nil
}

// DecodeAgentRecord decodes a live agent record. Agent records carry no
// registry-relevant structure beyond their id, so any decode failure rejects the record.
func DecodeAgentRecord(data []byte) (*AgentRecord, error) {
	var rec AgentRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing agent record: %v: %w", err, ErrMalformedRecord)
	}
	if rec.AgentID == "" {
		return nil, fmt.Errorf("agent record has no agent_id: %w", ErrMalformedRecord)
	}
	return &rec, nil
}

// EncodeRegistration marshals only the upstream fields of a resource.
func EncodeRegistration(r *Resource) ([]byte, error) {
	reg := r.Clone()
	reg.resetDerived()
	return json.Marshal(reg)
}

func (r *Resource) resetDerived() {
	r.ComplianceStatus = ""
	r.LastValidatedAt = nil
	r.LastRefreshedAt = nil
	r.AgentType = ""
	r.AgentCapabilities = nil
	r.Registered = false
	r.FullyRegistered = false
	r.NeedsRegistration = false
	r.Malformed = false
	r.ShapeIssues = nil
	r.MarkedForCleanup = false
}

func salvageResource(inst interface{}) *Resource {
	obj, _ := inst.(map[string]interface{})
	str := func(key string) string {
		s, _ := obj[key].(string)
		return s
	}
	return &Resource{
		ID:   str("id"),
		Kind: ResourceKind(str("resource_type")),
		Name: str("resource_name"),
		Path: str("resource_path"),
	}
}

func shapeIssues(ve *jsonschema.ValidationError) []string {
	var out []string
	collectShapeIssues(ve, &out)
	if len(out) == 0 {
		return []string{ve.Error()}
	}
	sort.Strings(out)
	return dedupSorted(out)
}

func collectShapeIssues(ve *jsonschema.ValidationError, out *[]string) {
	if len(ve.Causes) == 0 {
		if ve.ErrorKind == nil {
			return
		}
		kw := ve.ErrorKind.KeywordPath()
		if len(kw) > 0 && (kw[len(kw)-1] == "$ref" || kw[len(kw)-1] == "allOf") {
			return
		}
		path := "/" + strings.Join(ve.InstanceLocation, "/")
		*out = append(*out, fmt.Sprintf("Invalid record shape at %s: %s", path, ve.ErrorKind.LocalizedString(schemaPrinter)))
		return
	}
	for _, cause := range ve.Causes {
		collectShapeIssues(cause, out)
	}
}

func dedupSorted(in []string) []string {
	out := in[:0]
	for i, s := range in {
		if i == 0 || s != in[i-1] {
			out = append(out, s)
		}
	}
	return out
}
