package actions

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepwise/pkg/schema"
)

// stubAction is a minimal Action for registry tests.
type stubAction struct {
	name string
	desc string
}

func (s *stubAction) Name() string { return s.name }
func (s *stubAction) Schema() ActionSchema {
	return ActionSchema{Description: s.desc}
}
func (s *stubAction) Execute(_ context.Context, _ Input) (any, error) {
	return map[string]any{"ok": true}, nil
}
func (s *stubAction) Validate(_ map[string]any) error { return nil }

func TestRegistry_Register(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubAction{name: "test.action", desc: "A test action"}))
	assert.Equal(t, 1, reg.Count())
	assert.True(t, reg.Has("test.action"))

	err := reg.Register(&stubAction{name: "test.action"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeConflict))

	err = reg.Register(nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	err = reg.Register(&stubAction{})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	for _, bad := range []string{"http get", ".get", "http."} {
		err = reg.Register(&stubAction{name: bad})
		assert.True(t, schema.IsCode(err, schema.ErrCodeValidation), bad)
	}
}

func TestRegistry_Get(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubAction{name: "a"}))

	a, err := reg.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "a", a.Name())

	_, err = reg.Get("missing")
	assert.True(t, schema.IsCode(err, schema.ErrCodeActionUnavailable))
}

func TestRegistry_UnknownActionSuggestsFamily(t *testing.T) {
	reg := NewRegistry()
	for _, n := range []string{"http.post", "http.get", "jq"} {
		require.NoError(t, reg.Register(&stubAction{name: n}))
	}

	_, err := reg.Get("http.download")
	require.Error(t, err)
	var se *schema.Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, schema.ErrCodeActionUnavailable, se.Code)
	assert.Equal(t, `action "http.download" not registered (did you mean http.get, http.post?)`, se.Message)
	assert.Equal(t, []string{"http.get", "http.post"}, se.Details["similar"])

	_, err = reg.Get("ftp.put")
	require.ErrorAs(t, err, &se)
	assert.Equal(t, `action "ftp.put" not registered`, se.Message)

	assert.Equal(t, []string{"http.post"}, reg.Similar("http.get"))
}

func TestRegistry_Families(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, RegisterBuiltins(reg, BuiltinConfig{}))

	assert.Equal(t, []string{"assert", "expr", "http", "jq", "noop", "sleep"}, reg.Families())

	httpActions := reg.ListFamily("http")
	require.Len(t, httpActions, 3)
	assert.Equal(t, "http.get", httpActions[0].Name)
	assert.Equal(t, "http", httpActions[0].Family)
	assert.NotEmpty(t, httpActions[0].Description)

	assert.Empty(t, reg.ListFamily("ftp"))
	assert.Len(t, reg.List(), reg.Count())
}

func TestFamily(t *testing.T) {
	assert.Equal(t, "http", Family("http.get"))
	assert.Equal(t, "assert", Family("assert"))
	assert.Equal(t, "assert", Family("assert.schema"))
}

func TestRegistry_ListSorted(t *testing.T) {
	reg := NewRegistry()
	for _, n := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, reg.Register(&stubAction{name: n, desc: n + " desc"}))
	}

	list := reg.List()
	require.Len(t, list, 3)
	assert.Equal(t, "alpha", list[0].Name)
	assert.Equal(t, "alpha desc", list[0].Description)
	assert.Equal(t, "zeta", list[2].Name)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			_ = reg.Register(&stubAction{name: string(rune('a' + n))})
		}(i)
		go func() {
			defer wg.Done()
			_ = reg.List()
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, reg.Count())
}

func TestRegisterBuiltins(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, RegisterBuiltins(reg, BuiltinConfig{}))

	for _, name := range []string{
		"noop", "sleep", "http.request", "http.get", "http.post", "expr.eval", "jq",
		"assert", "assert.equals", "assert.contains", "assert.matches", "assert.schema",
	} {
		assert.True(t, reg.Has(name), name)
	}

	assert.Error(t, RegisterBuiltins(reg, BuiltinConfig{}), "second registration conflicts")
}
