package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rendis/stepwise/internal/engine"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	s, err := NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// stores returns every Store implementation, fresh per call.
func stores(t *testing.T) map[string]Store {
	t.Helper()
	return map[string]Store{
		"libsql": newTestStore(t),
		"memory": NewMemoryStore(),
	}
}

// runWorkflow executes fetch -> (score | flaky) with events streamed to sink.
// flaky fails once, then succeeds; broken never succeeds.
func runWorkflow(t *testing.T, name string, sink engine.EventAppender) *engine.Report {
	t.Helper()
	w := engine.New(name, engine.Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Events: sink,
	})

	flakyCalls := 0
	require.NoError(t, w.AddStep("fetch", engine.StepFunc(func(context.Context, *engine.Results) (any, error) {
		return map[string]any{"rows": 3}, nil
	})))
	require.NoError(t, w.AddStep("flaky", engine.StepFunc(func(context.Context, *engine.Results) (any, error) {
		flakyCalls++
		if flakyCalls == 1 {
			return nil, errors.New("warming up")
		}
		return "ok", nil
	}), engine.DependsOn("fetch"), engine.WithRetries(1)))
	require.NoError(t, w.AddStep("broken", engine.StepFunc(func(context.Context, *engine.Results) (any, error) {
		return nil, errors.New("boom")
	}), engine.DependsOn("fetch")))
	require.NoError(t, w.AddConditionalStep("never",
		engine.ConditionFunc(func(*engine.Results) (bool, error) { return false, nil }),
		engine.StepFunc(func(context.Context, *engine.Results) (any, error) { return nil, nil }),
	))

	report, err := w.Execute(context.Background())
	require.NoError(t, err)
	return report
}
