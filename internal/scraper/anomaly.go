package scraper

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

// resolutionPollInterval is how often the manual-resolution wait re-checks
// the page. The underlying page-state check has no push notification, so
// polling is the only option.
const resolutionPollInterval = 2 * time.Second

// Marker is a named page-state signature indicating a CAPTCHA or
// verification challenge. Markers are evaluated in order, first match wins.
type Marker struct {
	Name  string
	Check func(ctx context.Context, driver PageDriver) (bool, error)
}

// selectorMarker builds a marker that fires when the selector is visible.
func selectorMarker(selector string) Marker {
	return Marker{
		Name: selector,
		Check: func(ctx context.Context, driver PageDriver) (bool, error) {
			return driver.ElementVisible(ctx, selector)
		},
	}
}

// DefaultMarkers covers the challenge widgets observed on classified-ads
// sites: reCAPTCHA and hCaptcha iframes, generic captcha containers, and
// Cloudflare interstitials.
func DefaultMarkers() []Marker {
	selectors := []string{
		"iframe[src*='recaptcha']",
		"iframe[src*='hcaptcha']",
		"div[class*='captcha']",
		"div[id*='captcha']",
		".cf-browser-verification",
		"#challenge-form",
		"[data-testid*='captcha']",
	}
	markers := make([]Marker, 0, len(selectors))
	for _, sel := range selectors {
		markers = append(markers, selectorMarker(sel))
	}
	return markers
}

// DefaultRateLimitPhrases are matched case-insensitively against the full
// page text. The site serves French and English variants.
func DefaultRateLimitPhrases() []string {
	return []string{
		"too many requests",
		"trop de requêtes",
		"rate limit",
		"temporairement indisponible",
		"429",
		"service unavailable",
	}
}

// AnomalyDetector spots CAPTCHA and rate-limit conditions and runs bounded
// manual-resolution waits. Detection is signature-based and best-effort;
// false negatives are handled upstream by the engine's empty-page and
// timeout logic.
type AnomalyDetector struct {
	markers          []Marker
	rateLimitPhrases []string
	maxEncounters    int
	captchaCount     int

	clock   Clock
	sleeper Sleeper
	logger  *zap.Logger
}

// AnomalyOption customizes an AnomalyDetector.
type AnomalyOption func(*AnomalyDetector)

// WithMarkers replaces the default marker list.
func WithMarkers(markers []Marker) AnomalyOption {
	return func(d *AnomalyDetector) { d.markers = markers }
}

// WithRateLimitPhrases replaces the default phrase list.
func WithRateLimitPhrases(phrases []string) AnomalyOption {
	return func(d *AnomalyDetector) { d.rateLimitPhrases = phrases }
}

// WithAnomalyClock substitutes the time source.
func WithAnomalyClock(c Clock) AnomalyOption {
	return func(d *AnomalyDetector) { d.clock = c }
}

// WithAnomalySleeper substitutes the blocking primitive.
func WithAnomalySleeper(s Sleeper) AnomalyOption {
	return func(d *AnomalyDetector) { d.sleeper = s }
}

// NewAnomalyDetector builds a detector that refuses to continue once more
// than maxEncounters CAPTCHAs have been hit.
func NewAnomalyDetector(maxEncounters int, logger *zap.Logger, opts ...AnomalyOption) *AnomalyDetector {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &AnomalyDetector{
		markers:          DefaultMarkers(),
		rateLimitPhrases: DefaultRateLimitPhrases(),
		maxEncounters:    maxEncounters,
		clock:            systemClock{},
		sleeper:          timerSleeper{},
		logger:           logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DetectMarker tests the marker list against the current page state and
// returns the first match. Driver errors during a check are swallowed: an
// unreadable signal is treated as absent.
func (d *AnomalyDetector) DetectMarker(ctx context.Context, driver PageDriver) (bool, string) {
	for _, marker := range d.markers {
		found, err := marker.Check(ctx, driver)
		if err != nil {
			d.logger.Debug("marker check failed", zap.String("marker", marker.Name), zap.Error(err))
			continue
		}
		if found {
			d.logger.Warn("challenge marker detected", zap.String("marker", marker.Name))
			return true, marker.Name
		}
	}
	return false, ""
}

// DetectRateLimit reports whether the page text carries a rate-limiting
// phrase.
func (d *AnomalyDetector) DetectRateLimit(ctx context.Context, driver PageDriver) bool {
	text, err := driver.PageText(ctx)
	if err != nil {
		d.logger.Debug("page text unavailable for rate-limit check", zap.Error(err))
		return false
	}
	lower := strings.ToLower(text)
	for _, phrase := range d.rateLimitPhrases {
		if strings.Contains(lower, phrase) {
			d.logger.Warn("rate limiting detected", zap.String("phrase", phrase))
			return true
		}
	}
	return false
}

// WaitForManualResolution counts the encounter, then polls until the
// challenge clears or the timeout elapses. A human is expected to solve the
// CAPTCHA in the (non-headless) browser; nothing is solved automatically.
// Returns false immediately when the encounter budget is exhausted.
func (d *AnomalyDetector) WaitForManualResolution(ctx context.Context, driver PageDriver, timeout time.Duration) bool {
	d.captchaCount++

	if d.captchaCount > d.maxEncounters {
		d.logger.Error("captcha budget exhausted",
			zap.Int("count", d.captchaCount),
			zap.Int("max", d.maxEncounters))
		return false
	}

	d.logger.Info("waiting for manual captcha resolution",
		zap.Int("count", d.captchaCount),
		zap.Int("max", d.maxEncounters),
		zap.Duration("timeout", timeout))

	deadline := d.clock.Now().Add(timeout)
	for {
		found, _ := d.DetectMarker(ctx, driver)
		if !found {
			d.logger.Info("challenge resolved")
			return true
		}
		if ctx.Err() != nil || !d.clock.Now().Before(deadline) {
			d.logger.Error("challenge not resolved in time", zap.Duration("timeout", timeout))
			return false
		}
		d.sleeper.Pause(ctx, resolutionPollInterval)
	}
}

// ShouldContinue reports whether the CAPTCHA encounter budget still allows
// crawling.
func (d *AnomalyDetector) ShouldContinue() bool {
	return d.captchaCount <= d.maxEncounters
}

// CaptchaCount returns the number of CAPTCHAs encountered so far. The count
// is strictly monotonic.
func (d *AnomalyDetector) CaptchaCount() int {
	return d.captchaCount
}
