package rules

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/anferov/lexflow/pkg/schema"
)

// ruleSpecSchemaJSON is the JSON Schema for rule spec documents. Embedded as
// a constant to avoid filesystem dependencies.
const ruleSpecSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://lexflow.dev/schemas/rules.json",
  "type": "object",
  "required": ["rules"],
  "properties": {
    "rules": {
      "type": "array",
      "items": { "$ref": "#/$defs/rule" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "rule": {
      "type": "object",
      "required": ["id", "entity_kind", "event_name", "title", "due", "assignee"],
      "properties": {
        "id": {
          "type": "string",
          "minLength": 1
        },
        "entity_kind": {
          "type": "string",
          "enum": ["Case", "Hearing", "CaseWorkflow", "Task"]
        },
        "event_name": {
          "type": "string",
          "enum": ["after_insert", "after_update", "stage_changed", "step_completed"]
        },
        "guard": { "type": "string" },
        "title": {
          "type": "string",
          "minLength": 1
        },
        "description": { "type": "string" },
        "due": {
          "type": "string",
          "minLength": 1
        },
        "priority": {
          "type": "string",
          "enum": ["low", "medium", "high", "urgent"]
        },
        "assignee": {
          "type": "string",
          "minLength": 1
        },
        "context": {
          "type": "object",
          "additionalProperties": { "type": "string" }
        }
      },
      "additionalProperties": false
    }
  }
}`

// SpecValidator validates rule spec documents against the embedded JSON
// Schema. Safe for concurrent use.
type SpecValidator struct {
	schema *jsonschema.Schema
}

// NewSpecValidator compiles the embedded rule spec schema.
func NewSpecValidator() (*SpecValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(ruleSpecSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal rule spec schema: %w", err)
	}
	if err := c.AddResource("https://lexflow.dev/schemas/rules.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add rule spec schema resource: %w", err)
	}

	compiled, err := c.Compile("https://lexflow.dev/schemas/rules.json")
	if err != nil {
		return nil, fmt.Errorf("compile rule spec schema: %w", err)
	}

	return &SpecValidator{schema: compiled}, nil
}

// specDocument is the on-disk shape of a rule spec file.
type specDocument struct {
	Rules []RuleSpec `json:"rules"`
}

// LoadSpecs validates a rule spec document and unmarshals its rules.
// Duplicate rule IDs are rejected here; JSON Schema cannot express that.
func (v *SpecValidator) LoadSpecs(raw []byte) ([]RuleSpec, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "rule spec document is not valid JSON").WithCause(err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return nil, toFlowError(err)
	}

	var parsed specDocument
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "unmarshal rule spec document").WithCause(err)
	}

	seen := make(map[string]struct{}, len(parsed.Rules))
	for _, spec := range parsed.Rules {
		if _, exists := seen[spec.ID]; exists {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "duplicate rule id %q", spec.ID)
		}
		seen[spec.ID] = struct{}{}
	}

	return parsed.Rules, nil
}

// toFlowError converts a jsonschema.ValidationError into a FlowError with
// per-violation messages.
func toFlowError(err error) *schema.FlowError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}
	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("rule spec validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf messages
// with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
