package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newCrawlCmd creates the 'crawl' subcommand, which seeds the frontier
// from the target domains and crawls until the budget is spent or a
// signal arrives.
func newCrawlCmd() *cobra.Command {
	var maxPages int64
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Starts the crawler and the health API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("max-pages") {
				if maxPages <= 0 {
					return fmt.Errorf("--max-pages must be > 0")
				}
				cfg.Crawler.MaxPages = maxPages
			}
			app, err := buildApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			return app.Run(cmd.Context())
		},
	}
	cmd.Flags().Int64Var(&maxPages, "max-pages", 0, "override crawler.max_pages for this run")
	return cmd
}
