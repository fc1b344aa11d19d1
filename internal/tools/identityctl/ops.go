package identityctl

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/sandeepkv93/streaming-identity-core/internal/app"
	"github.com/sandeepkv93/streaming-identity-core/internal/database"
	"github.com/sandeepkv93/streaming-identity-core/internal/observability"
)

func newMigrateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the identity tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			logger := observability.NewLogger(cmd.ErrOrStderr(), cfg.LogLevel)
			db, err := database.Open(cfg, logger)
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer func() { _ = sqlDB.Close() }()
			}
			err = database.Migrate(cmd.Context(), db)
			details := []string{fmt.Sprintf("driver=%s tables=%d", cfg.DatabaseDriver, len(database.Models()))}
			if perr := opts.printer(cmd.OutOrStdout()).Result(err == nil, "migrate", details, err); perr != nil {
				return perr
			}
			return err
		},
	}
}

func newServeCommand(opts *options) *cobra.Command {
	var schedule string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ops server (health, readiness, maintenance triggers)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				if schedule != "" {
					c, err := scheduleSweeps(a, schedule)
					if err != nil {
						return err
					}
					c.Start()
					defer func() { <-c.Stop().Done() }()
				}
				return a.Serve(ctx)
			})
		},
	}
	cmd.Flags().StringVar(&schedule, "sweep-schedule", "", "cron spec for background session sweeps, empty disables")
	return cmd
}

func newSweepCommand(opts *options) *cobra.Command {
	var schedule string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Deactivate expired sessions and revoke their refresh tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				if schedule == "" {
					changed, err := a.Services.Sessions.Sweep(ctx)
					if perr := opts.printer(cmd.OutOrStdout()).Result(err == nil, "sweep", []string{changedResult(changed)}, err); perr != nil {
						return perr
					}
					return err
				}
				if schedule == "config" {
					schedule = a.Config.SweepSchedule
				}
				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()
				c, err := scheduleSweeps(a, schedule)
				if err != nil {
					return err
				}
				c.Start()
				a.Logger.Info("sweep scheduled", "schedule", schedule)
				<-ctx.Done()
				<-c.Stop().Done()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&schedule, "schedule", "", `cron spec to keep sweeping ("config" uses SWEEP_SCHEDULE)`)
	return cmd
}

// scheduleSweeps registers a sweep job. Overlapping runs are skipped.
func scheduleSweeps(a *app.App, spec string) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := a.Services.Sessions.Sweep(ctx); err != nil {
			a.Logger.Warn("scheduled sweep failed", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("parse sweep schedule %q: %w", spec, err)
	}
	return c, nil
}
