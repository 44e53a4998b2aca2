package actions

import (
	"encoding/json"
	"time"

	"github.com/rendis/stepwise/pkg/schema"
)

// Param helpers used by all action files.

func stringParam(m map[string]any, key, defaultVal string) string {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	s, ok := v.(string)
	if !ok {
		return defaultVal
	}
	return s
}

func boolParam(m map[string]any, key string, defaultVal bool) bool {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	b, ok := v.(bool)
	if !ok {
		return defaultVal
	}
	return b
}

func intParam(m map[string]any, key string, defaultVal int) int {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return defaultVal
		}
		return int(i)
	default:
		return defaultVal
	}
}

// intsParam accepts a single number or a list of numbers.
func intsParam(m map[string]any, key string) []int {
	v, ok := m[key]
	if !ok || v == nil {
		return nil
	}
	if list, ok := v.([]any); ok {
		out := make([]int, 0, len(list))
		for _, item := range list {
			out = append(out, intParam(map[string]any{"v": item}, "v", 0))
		}
		return out
	}
	return []int{intParam(m, key, 0)}
}

func durationParam(m map[string]any, key string, defaultVal time.Duration) (time.Duration, error) {
	s := stringParam(m, key, "")
	if s == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, schema.NewErrorf(schema.ErrCodeValidation, "invalid duration %q for %q", s, key)
	}
	return d, nil
}

func messageParam(m map[string]any, defaultVal string) string {
	if msg := stringParam(m, "message", ""); msg != "" {
		return msg
	}
	return defaultVal
}
