package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

// newRecordsCmd creates the 'records' subcommand, a read-side query that
// prints a subject's stored records as JSON.
func newRecordsCmd() *cobra.Command {
	var (
		subjectID string
		source    string
	)

	cmd := &cobra.Command{
		Use:   "records",
		Short: "Lists stored records for a subject",
		Long: `Queries the record store for every record of one subject, ordered
by sort key, optionally filtered to a single source.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			records, err := appInstance.Store().ListRecords(cmd.Context(), subjectID, source)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(records)
		},
	}

	cmd.Flags().StringVar(&subjectID, "subject", "", "subject id to query")
	cmd.Flags().StringVar(&source, "source", "", "optional source filter")
	_ = cmd.MarkFlagRequired("subject")

	return cmd
}
