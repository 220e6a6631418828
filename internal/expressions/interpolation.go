package expressions

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anferov/lexflow/pkg/schema"
)

// InterpolationScope holds the data available for template resolution.
type InterpolationScope struct {
	Payload map[string]any // triggering entity snapshot
	Event   map[string]any // event metadata (entity_kind, event_name, entity_id)
	Context map[string]any // named jq extraction results
}

// Interpolator resolves ${{...}} references in task title and description
// templates.
type Interpolator struct{}

// NewInterpolator creates an Interpolator.
func NewInterpolator() *Interpolator {
	return &Interpolator{}
}

// Resolve scans a template for ${{...}} tokens and substitutes them with
// values from the scope. Text without tokens passes through unchanged.
func (interp *Interpolator) Resolve(template string, scope *InterpolationScope) (string, error) {
	var result strings.Builder
	result.Grow(len(template))

	i := 0
	for i < len(template) {
		idx := strings.Index(template[i:], "${{")
		if idx == -1 {
			result.WriteString(template[i:])
			break
		}

		result.WriteString(template[i : i+idx])
		start := i + idx + 3 // skip "${{"

		end := strings.Index(template[start:], "}}")
		if end == -1 {
			return "", schema.NewError(schema.ErrCodeValidation, "unclosed ${{ expression")
		}
		end += start

		ref := strings.TrimSpace(template[start:end])
		if ref == "" {
			return "", schema.NewError(schema.ErrCodeValidation, "empty variable reference: ${{  }}")
		}
		if strings.Contains(ref, "${{") {
			return "", schema.NewError(schema.ErrCodeValidation,
				"nested interpolation not allowed: ${{...}} cannot contain ${{")
		}

		val, err := interp.resolveRef(ref, scope)
		if err != nil {
			return "", err
		}
		result.WriteString(stringify(val))

		i = end + 2 // skip "}}"
	}

	return result.String(), nil
}

// resolveRef resolves a single dot-delimited reference like "payload.title".
func (interp *Interpolator) resolveRef(ref string, scope *InterpolationScope) (any, error) {
	parts := strings.SplitN(ref, ".", 2)
	namespace := parts[0]

	var root map[string]any
	switch namespace {
	case "payload":
		root = scope.Payload
	case "event":
		root = scope.Event
	case "context":
		root = scope.Context
	default:
		available := []string{"payload", "event", "context"}
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"unknown namespace %q in ${{%s}}; available: %s", namespace, ref, strings.Join(available, ", ")).
			WithDetails(map[string]any{"expression": ref, "available_namespaces": available})
	}

	if len(parts) < 2 || parts[1] == "" {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"invalid reference %q: expected %s.<field>", ref, namespace).
			WithDetails(map[string]any{"expression": ref})
	}
	if root == nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"cannot resolve %q: %s scope is empty", ref, namespace).
			WithDetails(map[string]any{"expression": ref})
	}

	// Direct key lookup first, then dot traversal into nested objects.
	if val, ok := root[parts[1]]; ok {
		return val, nil
	}
	return traversePath(root, parts[1], ref)
}

// traversePath navigates into nested maps using a dot-delimited path.
func traversePath(root any, path, ref string) (any, error) {
	current := root
	for i, seg := range strings.Split(path, ".") {
		if seg == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"empty segment in path %q at position %d", ref, i).
				WithDetails(map[string]any{"expression": ref})
		}

		obj, ok := current.(map[string]any)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"cannot traverse into non-object at %q in %q (type: %T)", seg, ref, current).
				WithDetails(map[string]any{"expression": ref})
		}
		val, ok := obj[seg]
		if !ok {
			keys := mapKeys(obj)
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"field %q not found in %q; available: [%s]", seg, ref, strings.Join(keys, ", ")).
				WithDetails(map[string]any{"expression": ref, "available_fields": keys})
		}
		current = val
	}
	return current, nil
}

// stringify renders a resolved value for embedding in template text.
func stringify(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return ""
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return fmt.Sprintf("%v", v)
	case int:
		return fmt.Sprintf("%d", v)
	case int64:
		return fmt.Sprintf("%d", v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// mapKeys returns sorted keys from a map[string]any.
func mapKeys(m map[string]any) []string {
	if m == nil {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		key := keys[i]
		j := i - 1
		for j >= 0 && keys[j] > key {
			keys[j+1] = keys[j]
			j--
		}
		keys[j+1] = key
	}
	return keys
}

// HasInterpolation reports whether a template contains any ${{...}} tokens.
func HasInterpolation(template string) bool {
	return strings.Contains(template, "${{")
}
