package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/rendis/stepwise/internal/definition"
)

func newValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Aliases:   []string{"v"},
		Usage:     "Check a workflow definition without running it",
		ArgsUsage: "<file>",
		Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
			path, err := fileArg(cmd)
			if err != nil {
				return err
			}
			def, err := definition.Load(path)
			if err != nil {
				return err
			}
			result, err := a.validate(def)
			if err != nil {
				return err
			}

			w := cmd.Root().Writer
			for _, issue := range result.Warnings {
				fmt.Fprintf(w, "warning %s\n", issue)
			}
			for _, issue := range result.Errors {
				fmt.Fprintf(w, "error   %s\n", issue)
			}
			if !result.Valid() {
				return result.ToError()
			}
			fmt.Fprintf(w, "%s: valid (%d steps)\n", path, len(def.Steps))
			return nil
		}),
	}
}
