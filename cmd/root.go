// Package cmd defines the CLI commands for the polite-crawler executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/polite-crawler/internal/config"
	"github.com/JakeFAU/polite-crawler/internal/export"
	"github.com/JakeFAU/polite-crawler/internal/server"
)

var cfgFile string

// cfgKeyType is the key for storing the loaded Config in the context.
type cfgKeyType string

const cfgKey cfgKeyType = "config"

// runner is the slice of server.App the crawl command drives.
type runner interface {
	Run(ctx context.Context) error
}

// buildApp and exportOnce are variables so tests can replace them.
var (
	buildApp = func(ctx context.Context, cfg *config.Config) (runner, error) {
		return server.Build(ctx, cfg)
	}
	exportOnce = server.ExportOnce
)

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "polite-crawler",
		Short: "A polite, resource-bounded crawler for music sites.",
		Long: `polite-crawler walks a fixed list of music domains while honoring
robots.txt, per-host delays and process memory/CPU ceilings. Results land
in Postgres (or memory) and can be exported as CSV to disk or GCS.`,
		SilenceUsage: true,

		// Runs before every subcommand so each sees the same validated config.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), cfgKey, &cfg))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newExportCmd())

	return cmd
}

func resolveConfig(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(cfgKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	return cfg, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// printExport reports where an export landed.
func printExport(cmd *cobra.Command, res export.Result) {
	fmt.Fprintf(cmd.OutOrStdout(), "exported %d rows to %s\n", res.Rows, res.URI)
}
