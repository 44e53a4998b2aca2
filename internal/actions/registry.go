package actions

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/rendis/stepwise/pkg/schema"
)

// Registry is the thread-safe ActionRegistry used to bind steps to actions.
// Actions are grouped into families by the prefix before the first dot, so
// "http.get" and "http.post" both belong to "http".
type Registry struct {
	mu       sync.RWMutex
	actions  map[string]Action
	families map[string][]string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		actions:  make(map[string]Action),
		families: make(map[string][]string),
	}
}

// Family returns the family of an action name: the text before the first dot,
// or the whole name for undotted actions such as "jq" and "noop".
func Family(name string) string {
	family, _, _ := strings.Cut(name, ".")
	return family
}

// Register adds an action. A duplicate name is a CONFLICT.
func (r *Registry) Register(action Action) error {
	if action == nil {
		return schema.NewError(schema.ErrCodeValidation, "action is nil")
	}
	name := action.Name()
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "action name is empty")
	}
	if strings.ContainsAny(name, " \t\n") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid action name %q", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.actions[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "action %q already registered", name)
	}
	r.actions[name] = action

	family := Family(name)
	members := append(r.families[family], name)
	slices.Sort(members)
	r.families[family] = members
	return nil
}

// Get returns the action registered under name. An unknown name is
// ACTION_UNAVAILABLE; its details carry the registered members of the same
// family under "similar".
func (r *Registry) Get(name string) (Action, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if action, ok := r.actions[name]; ok {
		return action, nil
	}

	similar := r.similarLocked(name)
	msg := fmt.Sprintf("action %q not registered", name)
	if len(similar) > 0 {
		msg += fmt.Sprintf(" (did you mean %s?)", strings.Join(similar, ", "))
	}
	return nil, schema.NewError(schema.ErrCodeActionUnavailable, msg).
		WithDetails(map[string]any{"action": name, "similar": similar})
}

// Similar returns the registered actions in name's family, excluding name.
func (r *Registry) Similar(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.similarLocked(name)
}

func (r *Registry) similarLocked(name string) []string {
	var out []string
	for _, member := range r.families[Family(name)] {
		if member != name {
			out = append(out, member)
		}
	}
	return out
}

// List returns every registered action ordered by family, then name.
func (r *Registry) List() []ActionInfo {
	return r.ListFamily("")
}

// ListFamily returns the actions of one family, or all actions for "".
func (r *Registry) ListFamily(family string) []ActionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var infos []ActionInfo
	for _, f := range r.familyNamesLocked() {
		if family != "" && f != family {
			continue
		}
		for _, name := range r.families[f] {
			infos = append(infos, ActionInfo{
				Name:        name,
				Family:      f,
				Description: r.actions[name].Schema().Description,
			})
		}
	}
	return infos
}

// Families returns the registered family names, sorted.
func (r *Registry) Families() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.familyNamesLocked()
}

func (r *Registry) familyNamesLocked() []string {
	names := make([]string, 0, len(r.families))
	for f := range r.families {
		names = append(names, f)
	}
	slices.Sort(names)
	return names
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.actions[name]
	return ok
}

// Count returns the number of registered actions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.actions)
}

var _ ActionRegistry = (*Registry)(nil)
