// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pvaillant/adwatch/internal/scraper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Scraping  ScrapingConfig  `mapstructure:"scraping"`
	Timing    TimingConfig    `mapstructure:"timing"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	Selectors SelectorsConfig `mapstructure:"selectors"`
	Targets   []TargetConfig  `mapstructure:"targets"`
	Export    ExportConfig    `mapstructure:"export"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	DB        DBConfig        `mapstructure:"db"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ScrapingConfig governs navigation and pagination.
type ScrapingConfig struct {
	BaseURL            string `mapstructure:"base_url"`
	MaxPages           int    `mapstructure:"max_pages"`
	Headless           bool   `mapstructure:"headless"`
	UserAgent          string `mapstructure:"user_agent"`
	PageLoadTimeoutSec int    `mapstructure:"page_load_timeout_seconds"`
}

// TimingConfig governs pacing and wait budgets.
type TimingConfig struct {
	MinDelaySec           float64 `mapstructure:"min_delay_between_requests"`
	MaxDelaySec           float64 `mapstructure:"max_delay_between_requests"`
	ElementWaitTimeoutSec int     `mapstructure:"element_wait_timeout_seconds"`
	CaptchaWaitTimeoutSec int     `mapstructure:"captcha_wait_timeout_seconds"`
}

// LimitsConfig holds the run's abort budgets.
type LimitsConfig struct {
	MaxCaptchaEncounters int `mapstructure:"max_captcha_encounters"`
	MaxConsecutiveErrors int `mapstructure:"max_consecutive_errors"`
}

// SelectorsConfig names the CSS selectors for ads and their fields.
type SelectorsConfig struct {
	AdsContainer string `mapstructure:"ads_container"`
	Title        string `mapstructure:"title"`
	Price        string `mapstructure:"price"`
	Location     string `mapstructure:"location"`
}

// TargetConfig is one (category, keyword-list) crawl target.
type TargetConfig struct {
	Name     string   `mapstructure:"name"`
	Category string   `mapstructure:"category"`
	Keywords []string `mapstructure:"keywords"`
}

// ExportConfig controls where extracted records land.
type ExportConfig struct {
	Dir     string   `mapstructure:"dir"`
	Formats []string `mapstructure:"formats"`
}

// MonitorConfig controls the status/metrics HTTP server.
type MonitorConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// DBConfig enables the optional Postgres record sink when a DSN is set.
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ADWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("scraping.base_url", "https://www.leboncoin.fr/recherche")
	v.SetDefault("scraping.max_pages", 5)
	v.SetDefault("scraping.headless", false)
	v.SetDefault("scraping.user_agent", "")
	v.SetDefault("scraping.page_load_timeout_seconds", 30)
	v.SetDefault("timing.min_delay_between_requests", 1.0)
	v.SetDefault("timing.max_delay_between_requests", 5.0)
	v.SetDefault("timing.element_wait_timeout_seconds", 10)
	v.SetDefault("timing.captcha_wait_timeout_seconds", 300)
	v.SetDefault("limits.max_captcha_encounters", 5)
	v.SetDefault("limits.max_consecutive_errors", 10)
	v.SetDefault("selectors.ads_container", "a[data-testid='adCard']")
	v.SetDefault("selectors.title", "p[data-testid='adTitle']")
	v.SetDefault("selectors.price", "span[data-testid='adPrice']")
	v.SetDefault("selectors.location", "span[data-testid='adLocation']")
	v.SetDefault("export.dir", "data/exports")
	v.SetDefault("export.formats", []string{"json", "csv"})
	v.SetDefault("monitor.enabled", false)
	v.SetDefault("monitor.port", 9090)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Scraping.BaseURL == "" {
		return fmt.Errorf("scraping.base_url must be set")
	}
	if c.Scraping.MaxPages <= 0 {
		return fmt.Errorf("scraping.max_pages must be > 0")
	}
	if c.Timing.MinDelaySec <= 0 {
		return fmt.Errorf("timing.min_delay_between_requests must be > 0")
	}
	if c.Timing.MaxDelaySec < c.Timing.MinDelaySec {
		return fmt.Errorf("timing.max_delay_between_requests must be >= min")
	}
	if c.Limits.MaxCaptchaEncounters < 0 {
		return fmt.Errorf("limits.max_captcha_encounters must be >= 0")
	}
	if c.Limits.MaxConsecutiveErrors <= 0 {
		return fmt.Errorf("limits.max_consecutive_errors must be > 0")
	}
	if c.Selectors.AdsContainer == "" {
		return fmt.Errorf("selectors.ads_container must be set")
	}
	if len(c.Targets) == 0 {
		return fmt.Errorf("at least one target must be configured")
	}
	for i, t := range c.Targets {
		if t.Name == "" {
			return fmt.Errorf("targets[%d].name must be set", i)
		}
		if t.Category == "" {
			return fmt.Errorf("targets[%d].category must be set", i)
		}
		if len(t.Keywords) == 0 {
			return fmt.Errorf("targets[%d].keywords must not be empty", i)
		}
	}
	if c.Monitor.Enabled && c.Monitor.Port <= 0 {
		return fmt.Errorf("monitor.port must be > 0 when monitor is enabled")
	}
	return nil
}

// ScraperConfig converts the loaded settings into the engine's config.
func (c Config) ScraperConfig() scraper.Config {
	targets := make([]scraper.Target, 0, len(c.Targets))
	for _, t := range c.Targets {
		targets = append(targets, scraper.Target{
			Name:     t.Name,
			Category: t.Category,
			Keywords: t.Keywords,
		})
	}
	return scraper.Config{
		BaseURL:              c.Scraping.BaseURL,
		MaxPages:             c.Scraping.MaxPages,
		MaxConsecutiveErrors: c.Limits.MaxConsecutiveErrors,
		ElementWaitTimeout:   time.Duration(c.Timing.ElementWaitTimeoutSec) * time.Second,
		CaptchaWaitTimeout:   time.Duration(c.Timing.CaptchaWaitTimeoutSec) * time.Second,
		Selectors: scraper.Selectors{
			AdsContainer: c.Selectors.AdsContainer,
			Title:        c.Selectors.Title,
			Price:        c.Selectors.Price,
			Location:     c.Selectors.Location,
		},
		Targets: targets,
	}
}

// MinDelay returns the configured pacing floor.
func (c Config) MinDelay() time.Duration {
	return time.Duration(c.Timing.MinDelaySec * float64(time.Second))
}

// MaxDelay returns the configured pacing ceiling.
func (c Config) MaxDelay() time.Duration {
	return time.Duration(c.Timing.MaxDelaySec * float64(time.Second))
}
