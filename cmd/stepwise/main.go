package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func newRootCommand() *cli.Command {
	return &cli.Command{
		Name:                  "stepwise",
		Usage:                 "Run dependency-ordered workflows with retries, conditions and parallel groups",
		Version:               version,
		EnableShellCompletion: true,
		Flags:                 globalFlags(),
		Commands: []*cli.Command{
			newRunCommand(),
			newValidateCommand(),
			newGraphCommand(),
			newHistoryCommand(),
			newScheduleCommand(),
			newActionsCommand(),
		},
	}
}

// withApp resolves configuration, builds the app and tears it down after fn.
func withApp(fn func(ctx context.Context, cmd *cli.Command, a *app) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, err := resolveConfig(cmd)
		if err != nil {
			return err
		}
		a, err := newApp(ctx, cfg, cmd.Root().ErrWriter)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := a.close(context.WithoutCancel(ctx)); cerr != nil {
				a.logger.Error("shutdown failed", "error", cerr)
			}
		}()
		return fn(ctx, cmd, a)
	}
}

// fileArg returns the single positional argument of cmd.
func fileArg(cmd *cli.Command) (string, error) {
	if cmd.NArg() != 1 {
		return "", fmt.Errorf("%s: expected exactly one file argument, got %d", cmd.Name, cmd.NArg())
	}
	return cmd.Args().First(), nil
}
