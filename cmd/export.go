package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newExportCmd creates the 'export' subcommand, which writes the stored
// results as a single CSV file.
func newExportCmd() *cobra.Command {
	var destination string
	var limit int
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Exports stored crawl results as CSV",
		Long: `Reads crawl results from Postgres and writes crawl_results_<unix>.csv
to a local directory or a gs://bucket/prefix destination.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			if destination != "" {
				cfg.Export.Destination = destination
			}
			if cmd.Flags().Changed("limit") {
				cfg.Export.Limit = limit
			}
			res, err := exportOnce(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("export: %w", err)
			}
			printExport(cmd, res)
			return nil
		},
	}
	cmd.Flags().StringVar(&destination, "to", "", "override export.destination")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows to export (0 for all)")
	return cmd
}
