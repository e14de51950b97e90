package scraper

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/pvaillant/adwatch/internal/metrics"
)

// seenURLCacheSize bounds the per-run dedup cache of ad URLs.
const seenURLCacheSize = 4096

// Engine drives the keyword/category/page iteration. Pages, keywords, and
// targets are processed strictly sequentially on a single goroutine: the
// pacing model depends on it, and parallel fetching would only trigger the
// site's defenses harder.
type Engine struct {
	cfg       Config
	driver    PageDriver
	delays    *DelayManager
	anomalies *AnomalyDetector
	session   *Session
	sink      RecordSink

	seen    *lru.Cache[string, struct{}]
	clock   Clock
	sleeper Sleeper
	logger  *zap.Logger
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithEngineClock substitutes the time source.
func WithEngineClock(c Clock) EngineOption {
	return func(e *Engine) { e.clock = c }
}

// WithEngineSleeper substitutes the blocking primitive.
func WithEngineSleeper(s Sleeper) EngineOption {
	return func(e *Engine) { e.sleeper = s }
}

// NewEngine wires the orchestrator. The sink may be nil, in which case
// records only accumulate in the session.
func NewEngine(
	cfg Config,
	driver PageDriver,
	delays *DelayManager,
	anomalies *AnomalyDetector,
	session *Session,
	sink RecordSink,
	logger *zap.Logger,
	opts ...EngineOption,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	seen, _ := lru.New[string, struct{}](seenURLCacheSize)
	e := &Engine{
		cfg:       cfg,
		driver:    driver,
		delays:    delays,
		anomalies: anomalies,
		session:   session,
		sink:      sink,
		seen:      seen,
		clock:     systemClock{},
		sleeper:   timerSleeper{},
		logger:    logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Session exposes the run's session for stats snapshots.
func (e *Engine) Session() *Session {
	return e.session
}

// Run crawls every configured target sequentially and returns the full
// accumulated record sequence. A failing target never aborts the run; only
// context cancellation stops it early.
func (e *Engine) Run(ctx context.Context) ([]AdRecord, error) {
	e.logger.Info("starting crawl",
		zap.String("run_id", e.session.ID()),
		zap.Int("targets", len(e.cfg.Targets)))

	for i, target := range e.cfg.Targets {
		if ctx.Err() != nil {
			break
		}
		e.runTarget(ctx, target)
		if i < len(e.cfg.Targets)-1 {
			e.logger.Info("pausing between targets", zap.Duration("pause", interTargetPause))
			e.sleeper.Pause(ctx, interTargetPause)
		}
	}

	stats := e.session.Stats()
	e.logger.Info("crawl finished",
		zap.String("run_id", stats.RunID),
		zap.Int("total_ads", stats.TotalAdsFound),
		zap.Int("successful_pages", stats.SuccessfulPages),
		zap.Int("failed_pages", stats.FailedPages),
		zap.Float64("success_rate", stats.SuccessRate),
		zap.Int("captcha_encounters", e.anomalies.CaptchaCount()),
		zap.Float64("duration_seconds", stats.DurationSeconds))

	return e.session.Records(), ctx.Err()
}

// runTarget isolates one target: a panic inside it is logged and the next
// target still runs.
func (e *Engine) runTarget(ctx context.Context, target Target) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("target aborted",
				zap.String("target", target.Name),
				zap.Any("panic", r))
		}
	}()
	e.scrapeTarget(ctx, target)
}

func (e *Engine) scrapeTarget(ctx context.Context, target Target) {
	e.logger.Info("starting target",
		zap.String("target", target.Name),
		zap.String("category", target.Category),
		zap.Int("keywords", len(target.Keywords)))

	found := 0
	for _, keyword := range target.Keywords {
		if ctx.Err() != nil {
			break
		}
		found += e.scrapeKeyword(ctx, target, keyword)
	}

	e.session.AddAdsFound(found)
	metrics.ObserveAds(target.Name, found)
	e.logger.Info("target finished",
		zap.String("target", target.Name),
		zap.Int("ads", found))
}

// scrapeKeyword paginates one keyword. It stops early when the run's error
// budget or CAPTCHA budget is exhausted, or after three consecutive pages
// that loaded fine but held no ads. Budget breaches abort only this keyword;
// sibling keywords and targets still run.
func (e *Engine) scrapeKeyword(ctx context.Context, target Target, keyword string) int {
	count := 0
	emptyPages := 0

	for page := 1; page <= e.cfg.MaxPages; page++ {
		if ctx.Err() != nil {
			break
		}
		if e.session.ErrorCount() > e.cfg.MaxConsecutiveErrors {
			e.logger.Error("error budget exhausted, stopping keyword",
				zap.String("keyword", keyword),
				zap.Int("errors", e.session.ErrorCount()))
			break
		}
		if !e.anomalies.ShouldContinue() {
			e.logger.Error("captcha budget exhausted, stopping keyword",
				zap.String("keyword", keyword))
			break
		}

		records, ok := e.scrapePage(ctx, target, keyword, page)
		if !ok {
			e.sleeper.Pause(ctx, failurePenalty)
			continue
		}

		if len(records) > 0 {
			count += len(records)
			emptyPages = 0
			continue
		}
		emptyPages++
		if emptyPages >= emptyPageLimit {
			e.logger.Info("stopping keyword after consecutive empty pages",
				zap.String("keyword", keyword),
				zap.Int("empty_pages", emptyPages))
			break
		}
	}

	e.logger.Info("keyword finished",
		zap.String("keyword", keyword),
		zap.Int("ads", count))
	return count
}

// scrapePage fetches and extracts a single results page. ok reports whether
// the page was structurally successful, independent of how many ads it held.
func (e *Engine) scrapePage(ctx context.Context, target Target, keyword string, page int) ([]AdRecord, bool) {
	pageURL := e.searchURL(target.Category, keyword, page)
	e.logger.Info("fetching page",
		zap.String("keyword", keyword),
		zap.String("category", target.Category),
		zap.Int("page", page))

	if err := e.driver.Navigate(ctx, pageURL); err != nil {
		e.logger.Error("navigation failed", zap.Int("page", page), zap.Error(err))
		e.session.RecordError(fmt.Sprintf("page %d (%s): %v", page, keyword, err))
		e.session.RecordPageFailure()
		e.delays.RecordError()
		metrics.ObservePage("driver_failure")
		return nil, false
	}

	// Pacing applies to the next request, not the one just issued.
	slept := e.delays.WaitBetweenRequests(ctx)
	metrics.ObservePacingDelay(slept)

	if found, marker := e.anomalies.DetectMarker(ctx, e.driver); found {
		metrics.ObserveCaptcha()
		if !e.anomalies.WaitForManualResolution(ctx, e.driver, e.cfg.CaptchaWaitTimeout) {
			e.session.RecordError(fmt.Sprintf("page %d (%s): challenge %s unresolved", page, keyword, marker))
			e.session.RecordPageFailure()
			metrics.ObservePage("captcha_timeout")
			return nil, false
		}
	}

	if e.anomalies.DetectRateLimit(ctx, e.driver) {
		metrics.ObserveRateLimit()
		waited := e.delays.WaitAfterAnomaly(ctx, rateLimitCooldown)
		metrics.ObserveAnomalyWait(waited)
		e.session.RecordPageFailure()
		metrics.ObservePage("rate_limited")
		return nil, false
	}

	if err := e.driver.WaitVisible(ctx, e.cfg.Selectors.AdsContainer, e.cfg.ElementWaitTimeout); err != nil {
		e.logger.Warn("ads container never appeared",
			zap.Int("page", page),
			zap.Error(err))
		e.session.RecordPageFailure()
		metrics.ObservePage("timeout")
		return nil, false
	}

	elements, err := e.driver.Elements(ctx, e.cfg.Selectors.AdsContainer)
	if err != nil {
		e.logger.Error("element query failed", zap.Int("page", page), zap.Error(err))
		e.session.RecordError(fmt.Sprintf("page %d (%s): %v", page, keyword, err))
		e.session.RecordPageFailure()
		e.delays.RecordError()
		metrics.ObservePage("driver_failure")
		return nil, false
	}

	now := e.clock.Now()
	records := make([]AdRecord, 0, len(elements))
	for _, el := range elements {
		rec := extractAd(ctx, el, e.cfg.Selectors, target.Category, keyword, page, now)
		if rec.URL != "" {
			if _, dup := e.seen.Get(rec.URL); dup {
				continue
			}
			e.seen.Add(rec.URL, struct{}{})
		}
		records = append(records, rec)
	}

	e.session.AddRecords(records)
	e.session.RecordPageSuccess()
	e.delays.RecordSuccess()
	metrics.ObservePage("success")
	e.logger.Info("page extracted",
		zap.Int("page", page),
		zap.Int("ads", len(records)))

	if e.sink != nil && len(records) > 0 {
		if err := e.sink.Write(ctx, records); err != nil {
			e.logger.Warn("sink write failed", zap.Error(err))
		}
	}
	return records, true
}

func (e *Engine) searchURL(category, keyword string, page int) string {
	q := url.Values{}
	q.Set("category", category)
	q.Set("text", keyword)
	q.Set("page", strconv.Itoa(page))
	return e.cfg.BaseURL + "?" + q.Encode()
}
