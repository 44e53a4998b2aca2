package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/rendis/stepwise/internal/store"
	"github.com/rendis/stepwise/pkg/schema"
)

func newHistoryCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List recorded runs, or show one run with its events",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "run",
				Usage: "Show this run with its event log",
			},
			&cli.BoolFlag{
				Name:  "replay",
				Usage: "With --run, rebuild step states from the event log instead of the saved snapshot",
			},
			&cli.StringFlag{
				Name:  "name",
				Usage: "Only runs of this workflow",
			},
			&cli.StringFlag{
				Name:  "status",
				Usage: "Only runs with this status",
			},
			&cli.DurationFlag{
				Name:  "since",
				Usage: "Only runs created within this window (e.g. 24h)",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of runs to list",
				Value: 20,
			},
		},
		Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
			history, err := a.openHistory(ctx)
			if err != nil {
				return err
			}
			if id := cmd.String("run"); id != "" {
				return showRun(ctx, cmd, history, id)
			}

			filter := store.RunFilter{
				Name:  cmd.String("name"),
				Limit: cmd.Int("limit"),
			}
			if s := cmd.String("status"); s != "" {
				status := schema.WorkflowStatus(s)
				filter.Status = &status
			}
			if since := cmd.Duration("since"); since > 0 {
				t := time.Now().Add(-since)
				filter.Since = &t
			}
			runs, err := history.ListRuns(ctx, filter)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.Root().Writer, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN ID\tWORKFLOW\tSTATUS\tDONE\tFAILED\tSKIPPED\tDURATION\tCREATED")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
					r.ID, r.Name, r.Status,
					len(r.ExecutedSteps), len(r.FailedSteps), len(r.SkippedSteps),
					time.Duration(r.DurationMs)*time.Millisecond,
					r.CreatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		}),
	}
}

type runDetail struct {
	Run    *store.Run         `json:"run"`
	Steps  []*store.StepState `json:"replayed_steps,omitempty"`
	Events []*schema.Event    `json:"events"`
}

func showRun(ctx context.Context, cmd *cli.Command, history store.Store, id string) error {
	run, err := history.GetRun(ctx, id)
	if err != nil {
		return err
	}
	events, err := history.GetEvents(ctx, id, 0)
	if err != nil {
		return err
	}
	detail := runDetail{Run: run, Events: events}

	if cmd.Bool("replay") {
		replayed, err := store.ReplayEvents(ctx, history, id)
		if err != nil {
			return err
		}
		for _, step := range run.Steps {
			if st, ok := replayed[step.StepID]; ok {
				detail.Steps = append(detail.Steps, st)
			}
		}
	}
	return printJSON(cmd.Root().Writer, detail)
}
