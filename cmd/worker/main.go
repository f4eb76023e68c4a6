package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/postpilot/postpilot/internal/app"
	"github.com/postpilot/postpilot/internal/db"
	"github.com/postpilot/postpilot/internal/runner"
	"github.com/postpilot/postpilot/pkg/config"
	"github.com/postpilot/postpilot/pkg/logging"
	"github.com/postpilot/postpilot/pkg/telemetry"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads configuration and starts logging and telemetry for one command run
func setup() (*config.Config, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := logging.InitLogger(&cfg.Logging); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	shutdown, err := telemetry.Init(&cfg.Telemetry)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	return cfg, func() {
		shutdown()
		logging.Sync()
	}, nil
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "postpilot-worker",
		Short:         "Run postpilot ticks from cron or a job scheduler",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newTickCommand())
	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newMigrateCommand())
	return cmd
}

func newTickCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tick <publish|replies|likes|metrics|events>",
		Short: "Run one tick of a job and exit",
		Long: `Run a single pass of one job. Every job claims its rows with expiring
leases, so overlapping invocations never process the same item twice.`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"publish", "replies", "likes", "metrics", "events"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, done, err := setup()
			if err != nil {
				return err
			}
			defer done()

			a, err := app.New(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			for _, job := range a.Jobs() {
				if job.Name != args[0] {
					continue
				}
				logging.GetLogger().Info("Running tick", zap.String("job", job.Name), zap.String("instance", a.Instance))
				return job.Run(ctx)
			}
			return fmt.Errorf("unknown job %q", args[0])
		},
	}
}

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run every job on its interval until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, done, err := setup()
			if err != nil {
				return err
			}
			defer done()

			a, err := app.New(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			jobs := runner.New(a.Jobs()...)
			logging.GetLogger().Info("Running jobs", zap.Strings("jobs", jobs.Jobs()), zap.String("instance", a.Instance))
			return jobs.Run(ctx)
		},
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, done, err := setup()
			if err != nil {
				return err
			}
			defer done()

			cfg.Database.AutoMigrate = false
			database, err := db.New(&cfg.Database, cfg.Logging.Level)
			if err != nil {
				return err
			}
			defer database.Close()
			if strings.HasPrefix(cfg.Database.URL, db.SQLitePrefix) {
				return nil
			}
			return database.Migrate(context.WithoutCancel(cmd.Context()))
		},
	}
}
