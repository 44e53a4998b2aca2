package expressions

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/rendis/stepwise/pkg/schema"
)

// namespaces lists the roots a ${{...}} reference may start with.
var namespaces = []string{"steps", "inputs", "workflow"}

// Interpolator resolves ${{...}} references in step params.
//
// A string that is exactly one reference ("${{steps.fetch.body}}") is replaced
// by the referenced value with its type preserved. References embedded in a
// longer string are stringified in place.
type Interpolator struct{}

// NewInterpolator creates a new Interpolator.
func NewInterpolator() *Interpolator {
	return &Interpolator{}
}

// Resolve returns a deep copy of params with every reference resolved against scope.
func (interp *Interpolator) Resolve(params map[string]any, scope Scope) (map[string]any, error) {
	if params == nil {
		return nil, nil
	}
	out, err := interp.resolveValue(params, scope)
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

func (interp *Interpolator) resolveValue(v any, scope Scope) (any, error) {
	switch val := v.(type) {
	case string:
		return interp.ResolveString(val, scope)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			r, err := interp.resolveValue(item, scope)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			r, err := interp.resolveValue(item, scope)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

// ResolveString resolves the references in a single string.
func (interp *Interpolator) ResolveString(input string, scope Scope) (any, error) {
	if !strings.Contains(input, "${{") {
		return input, nil
	}

	trimmed := strings.TrimSpace(input)
	if strings.HasPrefix(trimmed, "${{") && strings.HasSuffix(trimmed, "}}") &&
		strings.Count(trimmed, "${{") == 1 && strings.Index(trimmed, "}}") == len(trimmed)-2 {
		expr, err := referenceBody(trimmed[3 : len(trimmed)-2])
		if err != nil {
			return nil, err
		}
		return interp.resolveExpr(expr, scope)
	}

	var result strings.Builder
	result.Grow(len(input))

	i := 0
	for i < len(input) {
		idx := strings.Index(input[i:], "${{")
		if idx == -1 {
			result.WriteString(input[i:])
			break
		}

		result.WriteString(input[i : i+idx])
		start := i + idx + 3

		end := strings.Index(input[start:], "}}")
		if end == -1 {
			return nil, schema.NewError(schema.ErrCodeInterpolation, "unclosed ${{ expression")
		}
		end += start

		expr, err := referenceBody(input[start:end])
		if err != nil {
			return nil, err
		}

		val, err := interp.resolveExpr(expr, scope)
		if err != nil {
			return nil, err
		}
		result.WriteString(marshalInline(val))

		i = end + 2
	}

	return result.String(), nil
}

func referenceBody(raw string) (string, error) {
	expr := strings.TrimSpace(raw)
	if strings.Contains(expr, "${{") {
		return "", schema.NewError(schema.ErrCodeInterpolation,
			"nested interpolation not allowed: ${{...}} cannot contain ${{")
	}
	if expr == "" {
		return "", schema.NewError(schema.ErrCodeInterpolation, "empty variable reference: ${{  }}")
	}
	return expr, nil
}

// resolveExpr resolves a single path like "steps.fetch.body.url".
func (interp *Interpolator) resolveExpr(expr string, scope Scope) (any, error) {
	namespace, rest, _ := strings.Cut(expr, ".")

	var root map[string]any
	switch namespace {
	case "steps":
		root = scope.Steps
	case "inputs":
		root = scope.Inputs
	case "workflow":
		root = scope.Workflow
	default:
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"unknown namespace %q in ${{%s}}; available: %s", namespace, expr, strings.Join(namespaces, ", ")).
			WithDetails(map[string]any{"expression": expr, "available_namespaces": namespaces})
	}

	if rest == "" {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"invalid reference %q: expected %s.<name>", expr, namespace).
			WithDetails(map[string]any{"expression": expr})
	}

	if namespace == "steps" {
		stepID, path, _ := strings.Cut(rest, ".")
		output, ok := root[stepID]
		if !ok {
			available := mapKeys(root)
			return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
				"step %q has no result in ${{%s}}; available steps: [%s]", stepID, expr, strings.Join(available, ", ")).
				WithDetails(map[string]any{"expression": expr, "available_steps": available})
		}
		if path == "" {
			return output, nil
		}
		return traversePath(output, path, expr)
	}

	// Direct key lookup first supports keys containing dots.
	if val, ok := root[rest]; ok {
		return val, nil
	}
	return traversePath(root, rest, expr)
}

// traversePath navigates nested maps and slices using a dot-delimited path.
// Numeric segments index into slices.
func traversePath(root any, path, expr string) (any, error) {
	current, err := Normalize(root)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation, "cannot traverse %q: %s", expr, err.Error()).
			WithCause(err)
	}

	for i, seg := range strings.Split(path, ".") {
		if seg == "" {
			return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
				"empty segment in path %q at position %d", expr, i).
				WithDetails(map[string]any{"expression": expr})
		}

		switch v := current.(type) {
		case map[string]any:
			val, ok := v[seg]
			if !ok {
				availableKeys := mapKeys(v)
				return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
					"field %q not found in %q; available: [%s]", seg, expr, strings.Join(availableKeys, ", ")).
					WithDetails(map[string]any{"expression": expr, "available_fields": availableKeys})
			}
			current = val
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
					"index %q out of range in %q (length %d)", seg, expr, len(v)).
					WithDetails(map[string]any{"expression": expr})
			}
			current = v[idx]
		default:
			return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
				"cannot traverse into non-object at %q in %q (type: %T)", seg, expr, current).
				WithDetails(map[string]any{"expression": expr})
		}
	}

	return current, nil
}

// marshalInline converts a resolved value into the text embedded in a larger string.
func marshalInline(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case json.RawMessage:
		return string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

func mapKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// HasInterpolation reports whether v contains any ${{...}} reference.
func HasInterpolation(v any) bool {
	switch val := v.(type) {
	case string:
		return strings.Contains(val, "${{")
	case map[string]any:
		for _, item := range val {
			if HasInterpolation(item) {
				return true
			}
		}
	case []any:
		for _, item := range val {
			if HasInterpolation(item) {
				return true
			}
		}
	}
	return false
}

// ExtractStepRefs returns the sorted, de-duplicated step names referenced via
// ${{steps.<name>...}} anywhere in v.
func ExtractStepRefs(v any) []string {
	refs := make(map[string]bool)
	collectStepRefs(v, refs)
	out := make([]string, 0, len(refs))
	for id := range refs {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func collectStepRefs(v any, refs map[string]bool) {
	switch val := v.(type) {
	case string:
		extractStepRefs(val, refs)
	case map[string]any:
		for _, item := range val {
			collectStepRefs(item, refs)
		}
	case []any:
		for _, item := range val {
			collectStepRefs(item, refs)
		}
	}
}

func extractStepRefs(s string, refs map[string]bool) {
	for {
		idx := strings.Index(s, "${{")
		if idx == -1 {
			return
		}
		rest := s[idx+3:]
		closeIdx := strings.Index(rest, "}}")
		if closeIdx == -1 {
			return
		}
		body := strings.TrimSpace(rest[:closeIdx])
		if after, ok := strings.CutPrefix(body, "steps."); ok {
			stepID, _, _ := strings.Cut(after, ".")
			if stepID = strings.TrimSpace(stepID); stepID != "" {
				refs[stepID] = true
			}
		}
		s = rest[closeIdx+2:]
	}
}
