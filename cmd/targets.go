package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// newTargetsCmd creates the 'targets' subcommand: a dry run that prints the
// loaded crawl plan without opening a browser.
func newTargetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "targets",
		Short: "Prints the configured crawl plan without scraping",
		RunE:  runTargets,
	}
}

func runTargets(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "base url\t%s\n", cfg.Scraping.BaseURL)
	fmt.Fprintf(w, "max pages per keyword\t%d\n", cfg.Scraping.MaxPages)
	fmt.Fprintf(w, "headless\t%t\n", cfg.Scraping.Headless)
	fmt.Fprintf(w, "delay range\t%.1fs - %.1fs\n", cfg.Timing.MinDelaySec, cfg.Timing.MaxDelaySec)
	fmt.Fprintf(w, "captcha budget\t%d\n", cfg.Limits.MaxCaptchaEncounters)
	fmt.Fprintf(w, "error budget\t%d\n", cfg.Limits.MaxConsecutiveErrors)
	fmt.Fprintln(w, "\ntarget\tcategory\tkeywords")
	for _, t := range cfg.Targets {
		fmt.Fprintf(w, "%s\t%s\t%s\n", t.Name, t.Category, strings.Join(t.Keywords, ", "))
	}
	if err := w.Flush(); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	return nil
}
