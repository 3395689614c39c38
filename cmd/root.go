package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/famewatch/enricher/internal/app"
	"github.com/famewatch/enricher/internal/catalog"
	"github.com/famewatch/enricher/internal/config"
	"github.com/famewatch/enricher/internal/enrich"
	"github.com/famewatch/enricher/internal/orchestrator"
)

var cfgFile string

// appKeyType is the key for storing the App in the command context.
type appKeyType string

const appKey appKeyType = "app"

// App is the slice of the application commands depend on. Keeping it an
// interface lets tests swap in a stub via newApp.
type App interface {
	Close()
	Logger() *zap.Logger
	Config() config.Config
	Store() catalog.RecordStore
	ChangeFeed(ctx context.Context) (catalog.ChangeFeed, error)
	Processor() (*enrich.Processor, error)
	Orchestrator(sourceName string) (*orchestrator.Orchestrator, error)
}

// newApp is the application factory. It is a variable so tests can replace
// it with a stub factory.
var newApp = func(ctx context.Context) (App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enricher",
		Short: "Collects and enriches external source data for catalog subjects.",
		Long: `enricher pulls public-figure data from external sources through a
rotating credential pool with circuit breaking and retries, persists one
record per (subject, source, timestamp), and enriches stored records with
a relevance weight and a sentiment label as they change.`,

		// Runs after flag parsing and before the subcommand's RunE. Builds
		// the application once and hands it to subcommands via the context.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context())
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env vars with the ENRICHER prefix override it)")

	cmd.AddCommand(newCollectCmd())
	cmd.AddCommand(newEnrichCmd())
	cmd.AddCommand(newRecordsCmd())

	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "enricher: %v\n", err)
		os.Exit(1)
	}
}
