// Package scraper implements the resilient crawl orchestrator: it sequences
// page fetches across (category, keyword, page) combinations, paces requests
// adaptively, reacts to CAPTCHAs and rate limiting, and accumulates
// session-level statistics.
package scraper

import "time"

// Target is one configured (category, keyword-list) pair to crawl.
type Target struct {
	Name     string
	Category string
	Keywords []string
}

// Selectors names the CSS selectors used to locate ads and their fields.
type Selectors struct {
	AdsContainer string
	Title        string
	Price        string
	Location     string
}

// Config holds the settings for a crawl session. It is decoupled from Viper
// so the engine can be constructed and tested independently.
type Config struct {
	BaseURL              string
	MaxPages             int
	MaxConsecutiveErrors int
	ElementWaitTimeout   time.Duration
	CaptchaWaitTimeout   time.Duration
	Selectors            Selectors
	Targets              []Target
}

// Fixed policy knobs mirrored from the site's observed tolerance; these are
// deliberately not configurable.
const (
	// emptyPageLimit stops pagination for a keyword after this many
	// consecutive pages that loaded fine but held no ads.
	emptyPageLimit = 3

	// failurePenalty is slept after any failed page before the next fetch.
	failurePenalty = 10 * time.Second

	// interTargetPause separates two consecutive targets.
	interTargetPause = 30 * time.Second

	// rateLimitCooldown is the base wait once rate-limit text is detected.
	rateLimitCooldown = 60 * time.Second
)
