package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/rendis/stepwise/internal/definition"
	"github.com/rendis/stepwise/internal/engine"
	"github.com/rendis/stepwise/internal/streaming"
	"github.com/rendis/stepwise/pkg/schema"
)

func newRunCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Aliases:   []string{"r"},
		Usage:     "Validate, compile and execute a workflow definition",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "input",
				Aliases: []string{"i"},
				Usage:   "Override an input (key=value, value parsed as YAML)",
			},
			&cli.BoolFlag{
				Name:    "watch",
				Aliases: []string{"w"},
				Usage:   "Stream step events to stderr while the workflow runs",
			},
			&cli.BoolFlag{
				Name:  "history",
				Usage: "Record the run and its events in the history database",
			},
		},
		Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
			path, err := fileArg(cmd)
			if err != nil {
				return err
			}
			def, err := definition.Load(path)
			if err != nil {
				return err
			}
			inputs, err := parseInputs(cmd.StringSlice("input"))
			if err != nil {
				return err
			}

			opts := runOptions{Inputs: inputs, History: cmd.Bool("history")}
			var stopWatch func()
			if cmd.Bool("watch") {
				hub := streaming.NewMemoryHub()
				if stopWatch, err = watchEvents(ctx, hub, cmd.Root().ErrWriter); err != nil {
					return err
				}
				opts.Sink = streaming.NewAppender(hub)
			}

			report, runErr := a.runDefinition(ctx, def, opts)
			if stopWatch != nil {
				stopWatch()
			}
			if report == nil {
				return runErr
			}
			if err := printJSON(cmd.Root().Writer, report); err != nil {
				return err
			}
			if runErr != nil {
				return runErr
			}
			return reportError(report)
		}),
	}
}

// parseInputs turns key=value pairs into an input map. Values are decoded as
// YAML scalars so numbers and booleans keep their type.
func parseInputs(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid input %q, want key=value", pair)
		}
		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil || raw == "" {
			v = raw
		}
		out[key] = v
	}
	return out, nil
}

// watchEvents prints every hub event to w until the returned stop func is
// called. stop blocks until buffered events are written.
func watchEvents(ctx context.Context, hub *streaming.MemoryHub, w io.Writer) (func(), error) {
	events, cancel, err := hub.Subscribe(ctx, streaming.EventFilter{})
	if err != nil {
		return nil, err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			fmt.Fprintln(w, formatEvent(ev))
		}
	}()
	return func() {
		cancel()
		<-done
	}, nil
}

func formatEvent(ev streaming.StreamEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%4d %-20s", ev.Sequence, ev.EventType)
	if ev.StepID != "" {
		fmt.Fprintf(&b, " %s", ev.StepID)
	}
	if ev.Payload != nil {
		if data, err := json.Marshal(ev.Payload); err == nil && string(data) != "{}" {
			fmt.Fprintf(&b, " %s", data)
		}
	}
	return b.String()
}

// reportError converts a finished but unsuccessful report into an error so
// the process exits non-zero.
func reportError(report *engine.Report) error {
	if report.Status == schema.WorkflowStatusCompleted {
		return nil
	}
	return schema.NewErrorf(schema.ErrCodeExecution, "workflow %s finished %s (failed: %s)",
		report.Name, report.Status, strings.Join(report.FailedSteps, ", "))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
