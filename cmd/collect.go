// Package cmd defines and implements the CLI commands for the enricher
// executable.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newCollectCmd creates the 'collect' subcommand. It runs one collection
// pass of the named source over the configured subject list and prints the
// run summary as JSON.
func newCollectCmd() *cobra.Command {
	var sourceName string

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Runs one collection pass for a source",
		Long: `Fetches data for every configured subject from the named source,
rotating credentials per attempt and persisting one record per successful
fetch. The run summary is printed to stdout when the pass completes.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCollect(cmd, sourceName)
		},
	}

	cmd.Flags().StringVar(&sourceName, "source", "", "source to collect (web_search, social_profile, net_profile, video_channel)")
	_ = cmd.MarkFlagRequired("source")

	return cmd
}

func runCollect(cmd *cobra.Command, sourceName string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.Logger()

	orch, err := appInstance.Orchestrator(sourceName)
	if err != nil {
		return err
	}

	summary, err := orch.Run(cmd.Context())
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("collect %s: %w", sourceName, err)
	}

	logger.Info("collection pass finished",
		zap.String("source", sourceName),
		zap.Int("subjects", summary.Total),
		zap.Int("retries", summary.Retries),
		zap.Duration("duration", summary.Duration),
	)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}
