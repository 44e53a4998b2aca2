package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/rendis/stepwise/internal/scheduler"
)

func newScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "schedule",
		Aliases:   []string{"s"},
		Usage:     "Run workflow definitions on cron schedules until interrupted",
		ArgsUsage: "<jobs.yaml>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "history",
				Usage: "Record every triggered run in the history database",
			},
			&cli.DurationFlag{
				Name:  "tick",
				Usage: "How often due jobs are checked",
				Value: scheduler.DefaultTickInterval,
			},
		},
		Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
			path, err := fileArg(cmd)
			if err != nil {
				return err
			}
			jobs, err := scheduler.LoadJobs(path)
			if err != nil {
				return err
			}

			runner := &jobRunner{app: a, history: cmd.Bool("history")}
			sched := scheduler.NewScheduler(runner, a.logger, scheduler.Options{
				TickInterval: cmd.Duration("tick"),
				Recorder:     a.metrics,
			})
			for _, job := range jobs {
				if err := sched.Add(job); err != nil {
					return err
				}
			}

			var srv *http.Server
			if addr := a.cfg.MetricsAddr; addr != "" {
				srv = serveMetrics(a, addr)
			}

			if err := sched.Start(ctx); err != nil {
				return err
			}
			for _, st := range sched.Jobs() {
				a.logger.Info("job scheduled", slog.String("job", st.Job.Name),
					slog.String("cron", st.Job.Cron), slog.Bool("disabled", st.Job.Disabled),
					slog.Time("next_run_at", st.NextRunAt))
			}

			<-ctx.Done()
			a.logger.Info("shutting down scheduler")

			stopErr := sched.Stop()
			if srv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					stopErr = errors.Join(stopErr, fmt.Errorf("metrics server: %w", err))
				}
			}
			return stopErr
		}),
	}
}

// serveMetrics exposes the Prometheus collector on addr in the background.
func serveMetrics(a *app, addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		a.logger.Info("metrics listening", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	return srv
}
