// Package cli implements the opsctl command tree.
package cli

import (
	"fmt"
	"log/slog"

	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/app"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/config"
	"github.com/spf13/cobra"
)

// RootCmd returns the opsctl root command with every subcommand attached.
func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "opsctl",
		Short: "Operate the logistics assistant locally",
		Long: `opsctl runs assistant turns against the local database, seeds fixtures and
inspects stored conversation sessions. Configuration comes from the environment
(and .env), like the server.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().String("db", "", "database path (overrides DB_PATH)")
	root.PersistentFlags().Bool("offline", false, "skip model backends and use rule extraction only")
	root.PersistentFlags().Bool("verbose", false, "log at info level to stderr")

	root.AddCommand(ChatCmd())
	root.AddCommand(SeedCmd())
	root.AddCommand(SessionsCmd())

	return root
}

// openApp loads configuration, applies the persistent flags and wires the engine.
func openApp(cmd *cobra.Command, opts app.Options) (*app.App, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if db, _ := cmd.Flags().GetString("db"); db != "" {
		cfg.DBPath = db
	}
	if offline, _ := cmd.Flags().GetBool("offline"); offline {
		opts.Offline = true
	}

	level := slog.LevelWarn
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	a, err := app.New(cmd.Context(), cfg, opts, logger)
	if err != nil {
		return nil, nil, err
	}
	return a, cfg, nil
}
