package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/devrev/softmatch/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the matchmaker HTTP service",
		Long: `Run the matchmaker with its HTTP API, presence watchdog and delivery workers.

Example:
  softmatch serve --config ./softmatch.yaml
  SOFTMATCH_NOTIFY_DRIVER=redis REDIS_HOST=cache softmatch serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), rootOpts)
		},
	}
}

func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	if opts.LogFormat != "" {
		cfg.Logging.Format = opts.LogFormat
	}
	return cfg, nil
}

func runServe(ctx context.Context, opts *RootOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logger := NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	defer logger.Sync()

	logger.Info("Configuration loaded",
		zap.String("addr", cfg.Addr()),
		zap.String("notify_driver", cfg.Notify.Driver),
		zap.String("stats_driver", cfg.Stats.Driver),
		zap.Duration("confirm_timeout", cfg.Sessions.ConfirmTimeout),
		zap.Bool("presence", cfg.Presence.Enabled))

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(ctx, cfg, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to initialize", err)
	}
	if err := app.Run(ctx); err != nil {
		return WrapExitError(ExitFailure, "matchmaker stopped with error", err)
	}
	logger.Info("Matchmaker stopped")
	return nil
}
