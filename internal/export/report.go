package export

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/pvaillant/adwatch/internal/scraper"
)

// WriteReport renders a plain-text summary of a finished run: session
// counters plus a basic price analysis over parseable, nonzero prices.
func WriteReport(filename string, records []scraper.AdRecord, stats scraper.SessionStats) error {
	if err := ensureDir(filename); err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "scrape report %s\n", stats.RunID)
	fmt.Fprintf(&b, "started:          %s\n", stats.StartTime.Format(time.RFC3339))
	fmt.Fprintf(&b, "duration:         %.0fs\n", stats.DurationSeconds)
	fmt.Fprintf(&b, "total ads:        %d\n", stats.TotalAdsFound)
	fmt.Fprintf(&b, "successful pages: %d\n", stats.SuccessfulPages)
	fmt.Fprintf(&b, "failed pages:     %d\n", stats.FailedPages)
	fmt.Fprintf(&b, "success rate:     %.1f%%\n", stats.SuccessRate)

	prices := make([]float64, 0, len(records))
	for _, rec := range records {
		if rec.CleanPrice != nil && *rec.CleanPrice > 0 {
			prices = append(prices, *rec.CleanPrice)
		}
	}
	if len(prices) > 0 {
		sort.Float64s(prices)
		sum := 0.0
		for _, p := range prices {
			sum += p
		}
		fmt.Fprintf(&b, "\nprice analysis (%d priced ads)\n", len(prices))
		fmt.Fprintf(&b, "mean:   %.2f\n", sum/float64(len(prices)))
		fmt.Fprintf(&b, "median: %.2f\n", prices[len(prices)/2])
		fmt.Fprintf(&b, "min:    %.2f\n", prices[0])
		fmt.Fprintf(&b, "max:    %.2f\n", prices[len(prices)-1])
	}

	if len(stats.Errors) > 0 {
		fmt.Fprintf(&b, "\nerrors (%d)\n", len(stats.Errors))
		for _, e := range stats.Errors {
			fmt.Fprintf(&b, "  - %s\n", e)
		}
	}

	if err := os.WriteFile(filename, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
