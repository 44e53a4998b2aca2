package expressions

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"reflect"

	"github.com/rendis/stepwise/pkg/schema"
)

// Engine evaluates expressions against workflow data.
// Three implementations: CEL (conditions), Expr (logic), GoJQ (transforms).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Compiler checks an expression without evaluating it.
type Compiler interface {
	Compile(expression string) error
}

// Scope is the data visible to expressions: completed step results, workflow
// inputs and run metadata.
type Scope struct {
	Steps    map[string]any
	Inputs   map[string]any
	Workflow map[string]any
}

// Data returns the scope as the top-level variable map expected by the engines.
// Values are normalized so every engine sees plain JSON-like data.
func (s Scope) Data() (map[string]any, error) {
	out := make(map[string]any, 3)
	for key, m := range map[string]map[string]any{"steps": s.Steps, "inputs": s.Inputs, "workflow": s.Workflow} {
		if m == nil {
			out[key] = map[string]any{}
			continue
		}
		v, err := Normalize(m)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "%s: %s", key, err.Error()).WithCause(err)
		}
		out[key] = v
	}
	return out, nil
}

// Normalize converts v into the JSON-like subset every engine accepts:
// map[string]any, []any, string, bool, int, float64 and nil. Other values
// (structs, typed maps and slices) go through a JSON round trip.
func Normalize(v any) (any, error) {
	switch val := v.(type) {
	case nil, string, bool, int, float64:
		return val, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			n, err := Normalize(item)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			n, err := Normalize(item)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case float32:
		return float64(val), nil
	case int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return normalizeInt(val), nil
	case json.RawMessage:
		var out any
		if err := json.Unmarshal(val, &out); err != nil {
			return nil, fmt.Errorf("decode raw JSON: %w", err)
		}
		return Normalize(out)
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("value of type %T is not JSON-serializable: %w", v, err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return Normalize(out)
}

func normalizeInt(v any) any {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return float64(u)
		}
		return int(u)
	default:
		return int(rv.Int())
	}
}

// EvaluateBool evaluates expression and requires a boolean result.
func EvaluateBool(ctx context.Context, eng Engine, expression string, data map[string]any) (bool, error) {
	out, err := eng.Evaluate(ctx, expression, data)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"%s expression %q returned %T, want bool", eng.Name(), expression, out).
			WithDetails(map[string]any{"expression": expression})
	}
	return b, nil
}

// Set bundles one instance of each engine. Engines cache compiled programs,
// so a Set is meant to be shared.
type Set struct {
	CEL  *CELEngine
	Expr *ExprEngine
	JQ   *GoJQEngine
}

// NewSet creates all three engines.
func NewSet() (*Set, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	return &Set{
		CEL:  celEngine,
		Expr: NewExprEngine(),
		JQ:   NewGoJQEngine(),
	}, nil
}

// Get returns the engine for a language name: cel (default), expr or jq.
func (s *Set) Get(lang string) (Engine, error) {
	switch lang {
	case "", schema.ConditionLangCEL:
		return s.CEL, nil
	case schema.ConditionLangExpr:
		return s.Expr, nil
	case "jq":
		return s.JQ, nil
	}
	return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown expression language %q", lang)
}
