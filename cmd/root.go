// Package cmd defines and implements the CLI commands for the
// lawnet-ingest executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jurisdata/lawnet-ingest/internal/config"
	"github.com/jurisdata/lawnet-ingest/internal/ingest"
	"github.com/jurisdata/lawnet-ingest/internal/logging"
	"github.com/jurisdata/lawnet-ingest/internal/store/postgres"
	"github.com/jurisdata/lawnet-ingest/internal/store/sqlite"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App bundles the shared services commands depend on.
type App struct {
	Config config.Config
	Logger *zap.Logger
	Store  ingest.CaseStore
}

// Close shuts down the shared services.
func (a *App) Close() {
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.Warn("Failed to close store", zap.Error(err))
		}
	}
	_ = a.Logger.Sync() //nolint:errcheck // best-effort flush
}

// newApp is the application factory. It's a variable so tests can replace
// it with a mock factory.
var newApp = func(ctx context.Context) (*App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &App{Config: cfg, Logger: logger, Store: store}, nil
}

func openStore(ctx context.Context, cfg config.Config) (ingest.CaseStore, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return postgres.Open(ctx, cfg.Store.PostgresDSN)
	default:
		return sqlite.Open(cfg.Store.SQLitePath)
	}
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lawnet-ingest",
		Short: "Ingests published court judgments into a local case store.",
		Long: `lawnet-ingest fetches judgment pages from the LawNet portal, extracts
structured case metadata plus the full judgment text, and persists each
case exactly once. Already-stored cases are skipped unless --force is
given, which replaces the stored record wholesale.`,

		SilenceUsage: true,

		// Build and inject the application before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(ctx)
			return nil
		},

		// Shut down services gracefully after the subcommand finishes.
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(*App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

func resolveApp(ctx context.Context) (*App, error) {
	appInstance, ok := ctx.Value(appKey).(*App)
	if !ok || appInstance == nil {
		return nil, fmt.Errorf("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
