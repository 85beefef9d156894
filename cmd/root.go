// Package cmd defines the coordinator's command-line interface.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/crawl-coordinator/internal/config"
	"github.com/JakeFAU/crawl-coordinator/internal/server"
)

// runner is the part of server.App the commands drive.
type runner interface {
	Run(ctx context.Context) error
}

// newRunner builds the application. It's a variable so tests can swap in a fake.
var newRunner = func(ctx context.Context, cfg *config.Config, mode server.Mode) (runner, error) {
	return server.Build(ctx, cfg, mode)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "coordinator",
		Short: "Distributed crawl coordinator.",
		Long: `coordinator accepts crawl jobs over HTTP and expands them with a pool of workers
that share nothing but a frontier queue and a ledger store.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")

	cmd.AddCommand(
		newRunCmd("serve", "Run the HTTP API and the worker pool in one process", server.ModeAll, &cfgFile),
		newRunCmd("api", "Run only the HTTP API", server.ModeAPI, &cfgFile),
		newRunCmd("worker", "Run only the worker pool", server.ModeWorker, &cfgFile),
	)
	return cmd
}

func newRunCmd(use, short string, mode server.Mode, cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			app, err := newRunner(cmd.Context(), &cfg, mode)
			if err != nil {
				return fmt.Errorf("build application: %w", err)
			}
			return app.Run(cmd.Context())
		},
	}
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
