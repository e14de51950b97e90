package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pvaillant/adwatch/internal/clock/system"
	"github.com/pvaillant/adwatch/internal/config"
	"github.com/pvaillant/adwatch/internal/driver/headless"
	"github.com/pvaillant/adwatch/internal/export"
	pgsink "github.com/pvaillant/adwatch/internal/export/postgres"
	"github.com/pvaillant/adwatch/internal/logging"
	"github.com/pvaillant/adwatch/internal/metrics"
	"github.com/pvaillant/adwatch/internal/monitor"
	"github.com/pvaillant/adwatch/internal/scraper"
)

// newScrapeCmd creates the 'scrape' subcommand, which runs the full crawl:
// one browser session, every configured target in order, exports at the end.
func newScrapeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scrape",
		Short: "Starts the crawl",
		Long: `Crawls every configured target sequentially through a single browser
session, pacing requests adaptively and exporting extracted listings
when the run finishes.`,
		RunE: runScrape,
	}
}

func runScrape(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush

	metrics.Init()

	// SIGINT/SIGTERM unwind the run; the deferred driver close releases the
	// browser before the process exits.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clk := system.New()
	session := scraper.NewSession(clk)

	drv, err := headless.New(headless.Config{
		Headless:          cfg.Scraping.Headless,
		UserAgent:         cfg.Scraping.UserAgent,
		NavigationTimeout: time.Duration(cfg.Scraping.PageLoadTimeoutSec) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("start page driver: %w", err)
	}
	defer func() {
		if cerr := drv.Close(); cerr != nil {
			logger.Warn("failed to close page driver", zap.Error(cerr))
		}
	}()

	sink, err := buildSink(ctx, cfg, session.ID())
	if err != nil {
		return err
	}
	if sink != nil {
		defer func() {
			if cerr := sink.Close(); cerr != nil {
				logger.Warn("failed to close record sink", zap.Error(cerr))
			}
		}()
	}

	delays := scraper.NewDelayManager(cfg.MinDelay(), cfg.MaxDelay(), scraper.WithDelayClock(clk))
	anomalies := scraper.NewAnomalyDetector(cfg.Limits.MaxCaptchaEncounters, logger, scraper.WithAnomalyClock(clk))
	engine := scraper.NewEngine(cfg.ScraperConfig(), drv, delays, anomalies, session, sink, logger,
		scraper.WithEngineClock(clk))

	if cfg.Monitor.Enabled {
		monitor.NewServer(cfg.Monitor.Port, session, logger).Start(ctx)
	}

	records, runErr := engine.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("run crawl: %w", runErr)
	}

	reportPath := filepath.Join(cfg.Export.Dir, fmt.Sprintf("report_%s.txt", session.ID()))
	if err := export.WriteReport(reportPath, records, session.Stats()); err != nil {
		logger.Warn("failed to write report", zap.Error(err))
	} else {
		logger.Info("report written", zap.String("path", reportPath))
	}

	if errors.Is(runErr, context.Canceled) {
		logger.Warn("crawl interrupted")
	}
	return nil
}

// buildSink assembles the configured record sinks. Returns nil when nothing
// is configured.
func buildSink(ctx context.Context, cfg config.Config, runID string) (scraper.RecordSink, error) {
	var sinks []scraper.RecordSink

	for _, format := range cfg.Export.Formats {
		switch format {
		case "csv":
			s, err := export.NewCSVSink(filepath.Join(cfg.Export.Dir, fmt.Sprintf("ads_%s.csv", runID)))
			if err != nil {
				return nil, fmt.Errorf("init csv sink: %w", err)
			}
			sinks = append(sinks, s)
		case "json":
			s, err := export.NewJSONLSink(filepath.Join(cfg.Export.Dir, fmt.Sprintf("ads_%s.jsonl", runID)))
			if err != nil {
				return nil, fmt.Errorf("init json sink: %w", err)
			}
			sinks = append(sinks, s)
		default:
			return nil, fmt.Errorf("unknown export format %q", format)
		}
	}

	if cfg.DB.DSN != "" {
		s, err := pgsink.NewSink(ctx, cfg.DB.DSN, runID)
		if err != nil {
			return nil, fmt.Errorf("init postgres sink: %w", err)
		}
		sinks = append(sinks, s)
	}

	switch len(sinks) {
	case 0:
		return nil, nil
	case 1:
		return sinks[0], nil
	default:
		return export.NewMultiSink(sinks...), nil
	}
}

func loadConfig() (config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
