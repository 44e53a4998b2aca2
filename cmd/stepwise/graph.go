package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/rendis/stepwise/internal/definition"
	"github.com/rendis/stepwise/internal/diagram"
	"github.com/rendis/stepwise/pkg/schema"
)

func newGraphCommand() *cli.Command {
	return &cli.Command{
		Name:      "graph",
		Aliases:   []string{"g"},
		Usage:     "Render the dependency graph of a workflow",
		ArgsUsage: "[file]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "Output format (mermaid, ascii, png, svg, jpg)",
				Value:   "ascii",
			},
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "Write to this file instead of stdout",
			},
			&cli.StringFlag{
				Name:  "run",
				Usage: "Overlay step states of a recorded run (the file argument becomes optional)",
			},
		},
		Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
			model, err := buildModel(ctx, cmd, a)
			if err != nil {
				return err
			}
			out, err := renderModel(ctx, model, cmd.String("format"))
			if err != nil {
				return err
			}

			if path := cmd.String("out"); path != "" {
				if err := os.WriteFile(path, out, 0o644); err != nil {
					return fmt.Errorf("write %s: %w", path, err)
				}
				a.logger.Info("diagram written", "path", path, "bytes", len(out))
				return nil
			}
			_, err = cmd.Root().Writer.Write(out)
			return err
		}),
	}
}

func buildModel(ctx context.Context, cmd *cli.Command, a *app) (*diagram.DiagramModel, error) {
	runID := cmd.String("run")

	var def *schema.WorkflowDefinition
	if cmd.NArg() > 0 {
		loaded, err := definition.Load(cmd.Args().First())
		if err != nil {
			return nil, err
		}
		def = loaded
	}

	if runID == "" {
		if def == nil {
			return nil, fmt.Errorf("graph: a definition file or --run is required")
		}
		return diagram.Build(def, nil)
	}

	history, err := a.openHistory(ctx)
	if err != nil {
		return nil, err
	}
	run, err := history.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if def == nil {
		def = run.Definition
	}
	if def == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "run %s has no stored definition", runID)
	}
	states, err := history.ListStepStates(ctx, runID)
	if err != nil {
		return nil, err
	}
	model, err := diagram.BuildFromStates(def, states)
	if err != nil {
		return nil, err
	}
	model.Status = string(run.Status)
	return model, nil
}

func renderModel(ctx context.Context, model *diagram.DiagramModel, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "ascii", "":
		return []byte(diagram.RenderASCII(model)), nil
	case "mermaid":
		return []byte(diagram.RenderMermaid(model)), nil
	}
	imgFormat, err := diagram.ParseImageFormat(format)
	if err != nil {
		return nil, err
	}
	return diagram.RenderImage(ctx, model, imgFormat)
}
