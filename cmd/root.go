// Package cmd defines and implements the CLI commands for the adwatch
// executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "adwatch",
		Short: "A resilient scraper for classified-ads listings.",
		Long: `adwatch drives a browser-controlled crawl of a classified-ads site,
extracting structured listings while adapting its pacing to the site's
anti-bot defenses. CAPTCHAs are surfaced for manual resolution; rate
limiting triggers long cooldowns instead of retries.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ./config.yaml)")

	cmd.AddCommand(newScrapeCmd())
	cmd.AddCommand(newTargetsCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
