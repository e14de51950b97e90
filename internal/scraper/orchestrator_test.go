package scraper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type engineFixture struct {
	engine    *Engine
	driver    *fakeDriver
	session   *Session
	delays    *DelayManager
	anomalies *AnomalyDetector
	sleeper   *recordingSleeper
	clock     *fakeClock
	sink      *recordingSink
}

func testConfig(targets ...Target) Config {
	if len(targets) == 0 {
		targets = []Target{{Name: "bikes", Category: "27", Keywords: []string{"velo"}}}
	}
	return Config{
		BaseURL:              "https://example.org/recherche",
		MaxPages:             10,
		MaxConsecutiveErrors: 10,
		ElementWaitTimeout:   10 * time.Second,
		CaptchaWaitTimeout:   30 * time.Second,
		Selectors:            testSelectors,
		Targets:              targets,
	}
}

func newEngineFixture(cfg Config, driver *fakeDriver, maxCaptcha int, markers []Marker) *engineFixture {
	clk := newFakeClock()
	sleeper := &recordingSleeper{clock: clk}
	delays := NewDelayManager(time.Second, 5*time.Second,
		WithDelayClock(clk),
		WithDelaySleeper(sleeper),
		WithDelayRand(fixedRand(0.5)))

	aopts := []AnomalyOption{WithAnomalyClock(clk), WithAnomalySleeper(sleeper)}
	if markers != nil {
		aopts = append(aopts, WithMarkers(markers))
	}
	anomalies := NewAnomalyDetector(maxCaptcha, nil, aopts...)

	session := NewSession(clk)
	sink := &recordingSink{}
	engine := NewEngine(cfg, driver, delays, anomalies, session, sink, nil,
		WithEngineClock(clk),
		WithEngineSleeper(sleeper))

	return &engineFixture{
		engine:    engine,
		driver:    driver,
		session:   session,
		delays:    delays,
		anomalies: anomalies,
		sleeper:   sleeper,
		clock:     clk,
		sink:      sink,
	}
}

func adPage(ads ...fakeAd) fakePage {
	return fakePage{ads: ads}
}

func TestEngineStopsKeywordAfterConsecutiveEmptyPages(t *testing.T) {
	cfg := testConfig(Target{Name: "bikes", Category: "27", Keywords: []string{"velo", "vtt"}})
	driver := &fakeDriver{pages: []fakePage{adPage(), adPage(), adPage()}}
	f := newEngineFixture(cfg, driver, 5, nil)

	records, err := f.engine.Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, records)

	// Each keyword stops after its third empty page; page 4 is never
	// fetched, and the first keyword's stop does not leak into the second.
	require.Equal(t, 6, driver.navCount)
	stats := f.session.Stats()
	require.Equal(t, 6, stats.SuccessfulPages)
	require.Zero(t, stats.FailedPages)
}

func TestEngineAccumulatesRecordsAcrossPages(t *testing.T) {
	driver := &fakeDriver{pages: []fakePage{
		adPage(
			fakeAd{title: "vélo de course", price: "120 €", href: "https://example.org/ad/1", location: "Lyon"},
			fakeAd{title: "VTT enfant", price: "80 €", href: "https://example.org/ad/2"},
		),
		adPage(fakeAd{title: "vélo électrique", price: "1 250 €", href: "https://example.org/ad/3"}),
		adPage(), adPage(), adPage(),
	}}
	f := newEngineFixture(testConfig(), driver, 5, nil)

	records, err := f.engine.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 3)

	// Three empty pages after the last hit terminate the keyword.
	require.Equal(t, 5, driver.navCount)

	first := records[0]
	require.Equal(t, "vélo de course", first.Title)
	require.Equal(t, "27", first.Category)
	require.Equal(t, "velo", first.Keyword)
	require.Equal(t, 1, first.PageNumber)
	require.NotNil(t, first.CleanPrice)
	require.InDelta(t, 120.0, *first.CleanPrice, 0.0001)
	require.Equal(t, "Lyon", first.Location)

	require.Equal(t, 2, records[2].PageNumber)

	stats := f.session.Stats()
	require.Equal(t, 3, stats.TotalAdsFound)
	require.Equal(t, 5, stats.SuccessfulPages)

	// The sink saw one batch per non-empty page.
	require.Len(t, f.sink.batches, 2)
	require.Len(t, f.sink.batches[0], 2)
	require.Len(t, f.sink.batches[1], 1)
}

func TestEngineErrorBudgetAbortsKeywordNotRun(t *testing.T) {
	cfg := testConfig(
		Target{Name: "bikes", Category: "27", Keywords: []string{"velo"}},
		Target{Name: "laptops", Category: "15", Keywords: []string{"ordinateur"}},
	)
	cfg.MaxConsecutiveErrors = 2
	driver := &fakeDriver{pages: []fakePage{{navErr: errors.New("net::ERR_CONNECTION_RESET")}}}
	f := newEngineFixture(cfg, driver, 5, nil)

	records, err := f.engine.Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, records)

	// Pages 1-3 fail and push the error count past the budget; page 4 and
	// the second target's pages are never fetched, but the run completes.
	require.Equal(t, 3, driver.navCount)
	stats := f.session.Stats()
	require.Equal(t, 3, stats.FailedPages)
	require.Len(t, stats.Errors, 3)
	require.Equal(t, 3, f.delays.ConsecutiveErrors())

	// Each failed page costs the fixed penalty sleep.
	penalties := 0
	for _, p := range f.sleeper.pauses {
		if p == failurePenalty {
			penalties++
		}
	}
	require.Equal(t, 3, penalties)
}

func TestEngineCaptchaResolvedThenExtracts(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPages = 1
	driver := &fakeDriver{pages: []fakePage{adPage(
		fakeAd{title: "vélo", price: "100 €", href: "https://example.org/ad/1"},
		fakeAd{title: "vélo cargo", price: "900 €", href: "https://example.org/ad/2"},
	)}}
	// Visible when the page loads, cleared by the time of the first re-check.
	f := newEngineFixture(cfg, driver, 5, []Marker{boolMarker("challenge", true, false)})

	records, err := f.engine.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)

	require.Equal(t, 1, f.anomalies.CaptchaCount())
	stats := f.session.Stats()
	require.Zero(t, stats.FailedPages)
	require.Equal(t, 1, stats.SuccessfulPages)
}

func TestEngineCaptchaTimeoutMarksPageFailed(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPages = 1
	cfg.CaptchaWaitTimeout = 10 * time.Second
	driver := &fakeDriver{pages: []fakePage{adPage(fakeAd{title: "vélo", price: "100 €", href: "https://example.org/ad/1"})}}
	f := newEngineFixture(cfg, driver, 5, []Marker{boolMarker("challenge", true)})

	records, err := f.engine.Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, records)

	stats := f.session.Stats()
	require.Equal(t, 1, stats.FailedPages)
	require.Len(t, stats.Errors, 1)
	require.Contains(t, stats.Errors[0], "challenge")
}

func TestEngineCaptchaBudgetAbortsKeyword(t *testing.T) {
	cfg := testConfig()
	driver := &fakeDriver{pages: []fakePage{adPage()}}
	// Budget of zero: the first encounter already exceeds it.
	f := newEngineFixture(cfg, driver, 0, []Marker{boolMarker("challenge", true)})

	_, err := f.engine.Run(context.Background())
	require.NoError(t, err)

	// Page 1 fails on the unresolvable challenge; the pre-fetch check stops
	// the keyword before page 2.
	require.Equal(t, 1, driver.navCount)
	require.False(t, f.anomalies.ShouldContinue())
	require.Equal(t, 1, f.session.Stats().FailedPages)
}

func TestEngineRateLimitTriggersLongCooldown(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPages = 1
	driver := &fakeDriver{pages: []fakePage{{
		text: "<html><body>Too many requests, retry later</body></html>",
		ads:  []fakeAd{{title: "vélo", price: "100 €", href: "https://example.org/ad/1"}},
	}}}
	f := newEngineFixture(cfg, driver, 5, nil)

	records, err := f.engine.Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, records, "extraction is skipped on a rate-limited page")

	stats := f.session.Stats()
	require.Equal(t, 1, stats.FailedPages)
	require.Zero(t, stats.SuccessfulPages)

	// 60s base + 20s at the jitter midpoint.
	require.Contains(t, f.sleeper.pauses, 80*time.Second)
}

func TestEngineContainerTimeoutMarksPageFailed(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPages = 1
	driver := &fakeDriver{pages: []fakePage{{waitErr: ErrWaitTimeout}}}
	f := newEngineFixture(cfg, driver, 5, nil)

	records, err := f.engine.Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, records)

	stats := f.session.Stats()
	require.Equal(t, 1, stats.FailedPages)
	require.Zero(t, stats.SuccessfulPages)
	// A load timeout is not a driver fault; the backoff stays relaxed.
	require.Zero(t, f.delays.ConsecutiveErrors())
}

func TestEngineDeduplicatesByURL(t *testing.T) {
	driver := &fakeDriver{pages: []fakePage{
		adPage(
			fakeAd{title: "vélo", price: "100 €", href: "https://example.org/ad/1"},
			fakeAd{title: "vélo bis", price: "110 €", href: "https://example.org/ad/2"},
		),
		// The same listing resurfaces on page 2.
		adPage(fakeAd{title: "vélo", price: "100 €", href: "https://example.org/ad/1"}),
		adPage(), adPage(),
	}}
	f := newEngineFixture(testConfig(), driver, 5, nil)

	records, err := f.engine.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, 4, f.session.Stats().SuccessfulPages)
}

func TestEnginePausesBetweenTargets(t *testing.T) {
	cfg := testConfig(
		Target{Name: "bikes", Category: "27", Keywords: []string{"velo"}},
		Target{Name: "laptops", Category: "15", Keywords: []string{"ordinateur"}},
	)
	cfg.MaxPages = 1
	driver := &fakeDriver{pages: []fakePage{adPage()}}
	f := newEngineFixture(cfg, driver, 5, nil)

	_, err := f.engine.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, driver.navCount)

	pauses := 0
	for _, p := range f.sleeper.pauses {
		if p == interTargetPause {
			pauses++
		}
	}
	require.Equal(t, 1, pauses, "no pause after the last target")
}

func TestEnginePanicInTargetDoesNotAbortRun(t *testing.T) {
	cfg := testConfig(
		Target{Name: "bikes", Category: "27", Keywords: []string{"velo"}},
		Target{Name: "laptops", Category: "15", Keywords: []string{"ordinateur"}},
	)
	cfg.MaxPages = 1

	calls := 0
	explosive := Marker{
		Name: "explosive",
		Check: func(_ context.Context, _ PageDriver) (bool, error) {
			calls++
			if calls == 1 {
				panic("selector engine exploded")
			}
			return false, nil
		},
	}
	driver := &fakeDriver{pages: []fakePage{adPage()}}
	f := newEngineFixture(cfg, driver, 5, []Marker{explosive})

	_, err := f.engine.Run(context.Background())
	require.NoError(t, err)

	// The first target dies mid-page; the second still completes a page.
	require.Equal(t, 2, driver.navCount)
	require.Equal(t, 1, f.session.Stats().SuccessfulPages)
}

func TestEngineStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	driver := &fakeDriver{pages: []fakePage{adPage()}}
	f := newEngineFixture(testConfig(), driver, 5, nil)

	records, err := f.engine.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, records)
	require.Zero(t, driver.navCount)
}
