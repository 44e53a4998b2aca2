package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"github.com/rendis/stepwise/internal/actions"
	"github.com/rendis/stepwise/internal/definition"
	"github.com/rendis/stepwise/internal/engine"
	"github.com/rendis/stepwise/internal/expressions"
	"github.com/rendis/stepwise/internal/logging"
	"github.com/rendis/stepwise/internal/metrics"
	"github.com/rendis/stepwise/internal/scheduler"
	"github.com/rendis/stepwise/internal/store"
	"github.com/rendis/stepwise/internal/telemetry"
	"github.com/rendis/stepwise/internal/validation"
	"github.com/rendis/stepwise/pkg/schema"
)

// app holds the dependencies shared by all commands.
type app struct {
	cfg      Config
	logger   *slog.Logger
	registry *actions.Registry
	exprs    *expressions.Set
	metrics  *metrics.Collector
	tracing  *telemetry.Provider
	history  store.Store
}

func newApp(ctx context.Context, cfg Config, logOut io.Writer) (*app, error) {
	logger, err := logging.Setup(logOut, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "logging: %v", err)
	}
	slog.SetDefault(logger)

	exprs, err := expressions.NewSet()
	if err != nil {
		return nil, fmt.Errorf("expression engines: %w", err)
	}

	registry := actions.NewRegistry()
	builtins := cfg.builtinConfig()
	builtins.Expressions = exprs
	if err := actions.RegisterBuiltins(registry, builtins); err != nil {
		return nil, fmt.Errorf("register actions: %w", err)
	}

	tracing, err := telemetry.Init(ctx, cfg.Telemetry, logger)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		exprs:    exprs,
		metrics:  metrics.NewCollector("stepwise", logger),
		tracing:  tracing,
	}, nil
}

// openHistory opens and migrates the history database on first use.
func (a *app) openHistory(ctx context.Context) (store.Store, error) {
	if a.history != nil {
		return a.history, nil
	}
	dsn, dir := historyDSN(a.cfg.HistoryDB)
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}
	st, err := store.NewLibSQLStore(dsn)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	a.history = st
	return st, nil
}

// historyDSN turns the configured history location into a libsql URL. Plain
// paths become file: URLs; dir is the local directory to create, if any.
func historyDSN(location string) (dsn, dir string) {
	switch {
	case strings.HasPrefix(location, "file:"):
		path, _, _ := strings.Cut(strings.TrimPrefix(location, "file:"), "?")
		return location, filepath.Dir(path)
	case strings.Contains(location, "://"):
		return location, ""
	default:
		return "file:" + location, filepath.Dir(location)
	}
}

func (a *app) close(ctx context.Context) error {
	var errs []error
	if err := a.tracing.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close history: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (a *app) engineOptions(events engine.EventAppender) engine.Options {
	return engine.Options{
		DefaultTimeout: a.cfg.DefaultTimeout,
		Backoff:        a.cfg.backoff(),
		MaxParallel:    a.cfg.MaxParallel,
		Logger:         a.logger,
		Events:         events,
		Metrics:        a.metrics,
		Tracer:         a.tracing.Tracer(),
	}
}

func (a *app) validate(def *schema.WorkflowDefinition) (*schema.ValidationResult, error) {
	wv, err := validation.NewWorkflowValidator(a.registry, a.exprs)
	if err != nil {
		return nil, err
	}
	return wv.Validate(def), nil
}

// runOptions controls a single workflow execution.
type runOptions struct {
	Inputs  map[string]any
	History bool
	Sink    engine.EventAppender
}

// runDefinition validates, compiles and executes def. The report is returned
// whenever the run started, including when err is non-nil.
func (a *app) runDefinition(ctx context.Context, def *schema.WorkflowDefinition, opts runOptions) (*engine.Report, error) {
	result, err := a.validate(def)
	if err != nil {
		return nil, err
	}
	if err := result.ToError(); err != nil {
		return nil, err
	}

	var sinks engine.MultiAppender
	if opts.Sink != nil {
		sinks = append(sinks, opts.Sink)
	}
	var history store.Store
	if opts.History {
		if history, err = a.openHistory(ctx); err != nil {
			return nil, err
		}
		sinks = append(sinks, history)
	}
	var events engine.EventAppender
	if len(sinks) > 0 {
		events = sinks
	}

	wf, err := definition.Compile(def, definition.CompileOptions{
		Actions:     a.registry,
		Expressions: a.exprs,
		Engine:      a.engineOptions(events),
		Inputs:      opts.Inputs,
	})
	if err != nil {
		return nil, err
	}

	a.logger.InfoContext(logging.WithRunID(ctx, wf.ID()), "workflow starting",
		slog.String("workflow", def.Name), slog.Int("steps", len(def.Steps)))
	report, execErr := wf.Execute(ctx)

	if history != nil && report != nil {
		inputs := maps.Clone(def.Inputs)
		if inputs == nil {
			inputs = map[string]any{}
		}
		maps.Copy(inputs, opts.Inputs)

		run, err := store.NewRun(report, def, inputs)
		if err == nil {
			err = history.SaveRun(context.WithoutCancel(ctx), run)
		}
		if err != nil {
			a.logger.Error("failed to record run", slog.String("run_id", report.WorkflowID), slog.Any("error", err))
		}
	}
	return report, execErr
}

// jobRunner runs scheduled jobs through the app.
type jobRunner struct {
	app     *app
	history bool
}

var _ scheduler.Runner = (*jobRunner)(nil)

func (r *jobRunner) RunJob(ctx context.Context, job scheduler.Job) error {
	def, err := definition.Load(job.File)
	if err != nil {
		return err
	}
	report, err := r.app.runDefinition(ctx, def, runOptions{Inputs: job.Inputs, History: r.history})
	if err != nil {
		return err
	}
	if report.Status != schema.WorkflowStatusCompleted {
		return schema.NewErrorf(schema.ErrCodeExecution, "workflow %s finished %s", report.Name, report.Status).
			WithDetails(map[string]any{"failed_steps": report.FailedSteps})
	}
	return nil
}
