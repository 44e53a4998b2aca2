package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/rendis/stepwise/pkg/schema"
)

func newActionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "actions",
		Usage: "List the actions available to workflow steps",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "family",
				Usage: "only list one action family (http, assert, ...)",
			},
		},
		Action: withApp(func(_ context.Context, cmd *cli.Command, a *app) error {
			family := cmd.String("family")
			infos := a.registry.ListFamily(family)
			if len(infos) == 0 && family != "" {
				return schema.NewErrorf(schema.ErrCodeNotFound, "no actions in family %q", family).
					WithDetails(map[string]any{"families": a.registry.Families()})
			}

			tw := tabwriter.NewWriter(cmd.Root().Writer, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FAMILY\tNAME\tDESCRIPTION")
			for _, info := range infos {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", info.Family, info.Name, info.Description)
			}
			return tw.Flush()
		}),
	}
}
