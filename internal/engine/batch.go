package engine

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rendis/stepwise/pkg/schema"
)

// runBatch runs steps concurrently and returns once all of them have finished.
// The group is not context-bound and every goroutine returns nil, so one
// failure never cancels its siblings. MaxParallel bounds concurrency; a step
// queued behind the limit is not launched once a critical step has failed.
func (w *Workflow) runBatch(ctx context.Context, steps []*step) {
	start := time.Now()
	names := stepNames(steps)
	w.events.emit(ctx, "", schema.EventParallelStarted, map[string]any{"steps": names})

	var g errgroup.Group
	if w.opts.MaxParallel > 0 {
		g.SetLimit(w.opts.MaxParallel)
	}
	for i, s := range steps {
		queued := w.opts.MaxParallel > 0 && i >= w.opts.MaxParallel
		g.Go(func() error {
			if queued && w.aborted.Load() {
				return nil
			}
			w.executeStep(ctx, s)
			return nil
		})
	}
	_ = g.Wait()

	var failed []string
	w.mu.Lock()
	for _, s := range steps {
		if s.status == schema.StepStatusFailed {
			failed = append(failed, s.name)
		}
	}
	w.mu.Unlock()

	w.events.emit(ctx, "", schema.EventParallelCompleted, map[string]any{
		"steps":  names,
		"failed": failed,
	})
	w.logger.DebugContext(ctx, "parallel batch joined",
		slog.Any("steps", names),
		slog.Int("failed", len(failed)),
		slog.Duration("duration", time.Since(start)))
}
