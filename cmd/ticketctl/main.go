// Command ticketctl runs maintenance tasks against the ticket store: schema
// migrations, manual archival, transcript export and credential issuing.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spec-kit/guild-tickets/internal/app"
	"github.com/spec-kit/guild-tickets/internal/config"
	"github.com/spec-kit/guild-tickets/internal/observability"
)

var (
	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "ticketctl",
	Short:         "Administer the guild ticket service",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
		logger, err = observability.NewLogger(cfg.Logger, cfg.App)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		logger = logger.Named("ticketctl")
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// withContainer builds the application container for the duration of fn.
func withContainer(ctx context.Context, opts app.Options, fn func(*app.Container) error) error {
	container, err := app.Build(ctx, cfg, logger, opts)
	if err != nil {
		return err
	}
	defer container.Close()
	return fn(container)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
