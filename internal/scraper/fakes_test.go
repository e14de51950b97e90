package scraper

import (
	"context"
	"fmt"
	"time"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.now = c.now.Add(d)
}

// recordingSleeper captures pause durations and advances the linked clock so
// waits take no real time.
type recordingSleeper struct {
	clock  *fakeClock
	pauses []time.Duration
}

func (s *recordingSleeper) Pause(_ context.Context, d time.Duration) {
	s.pauses = append(s.pauses, d)
	if s.clock != nil {
		s.clock.advance(d)
	}
}

func (s *recordingSleeper) total() time.Duration {
	var sum time.Duration
	for _, p := range s.pauses {
		sum += p
	}
	return sum
}

// fixedRand returns a deterministic uniform source.
func fixedRand(v float64) func() float64 {
	return func() float64 { return v }
}

// fakePage scripts the driver's behavior for one navigation.
type fakePage struct {
	navErr  error
	text    string
	waitErr error
	ads     []fakeAd
	adsErr  error
}

// fakeAd is the scripted content of one ad element.
type fakeAd struct {
	title    string
	price    string
	location string
	href     string
	noHref   bool
}

// fakeDriver replays scripted pages in navigation order. The last page
// repeats if navigation runs past the script.
type fakeDriver struct {
	pages    []fakePage
	navCount int
	closed   bool
}

func (d *fakeDriver) current() fakePage {
	if len(d.pages) == 0 {
		return fakePage{}
	}
	idx := d.navCount - 1
	if idx >= len(d.pages) {
		idx = len(d.pages) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return d.pages[idx]
}

func (d *fakeDriver) Navigate(_ context.Context, _ string) error {
	d.navCount++
	return d.current().navErr
}

func (d *fakeDriver) PageText(_ context.Context) (string, error) {
	return d.current().text, nil
}

func (d *fakeDriver) Elements(_ context.Context, _ string) ([]Element, error) {
	page := d.current()
	if page.adsErr != nil {
		return nil, page.adsErr
	}
	elements := make([]Element, 0, len(page.ads))
	for _, ad := range page.ads {
		elements = append(elements, &fakeElement{ad: ad})
	}
	return elements, nil
}

func (d *fakeDriver) ElementVisible(_ context.Context, _ string) (bool, error) {
	return false, nil
}

func (d *fakeDriver) WaitVisible(_ context.Context, _ string, _ time.Duration) error {
	return d.current().waitErr
}

func (d *fakeDriver) Close() error {
	d.closed = true
	return nil
}

// fakeElement resolves the field selectors configured in testSelectors.
type fakeElement struct {
	ad fakeAd
}

func (e *fakeElement) Text(_ context.Context) (string, error) {
	return "", fmt.Errorf("%w: text on container element", ErrElementNotFound)
}

func (e *fakeElement) Attribute(_ context.Context, name string) (string, bool, error) {
	if name == "href" && !e.ad.noHref {
		return e.ad.href, true, nil
	}
	return "", false, nil
}

func (e *fakeElement) Find(_ context.Context, selector string) (Element, error) {
	var value string
	switch selector {
	case testSelectors.Title:
		value = e.ad.title
	case testSelectors.Price:
		value = e.ad.price
	case testSelectors.Location:
		value = e.ad.location
	}
	if value == "" {
		return nil, fmt.Errorf("%w: %q", ErrElementNotFound, selector)
	}
	return staticText(value), nil
}

// staticText is an Element that only carries text.
type staticText string

func (s staticText) Text(_ context.Context) (string, error) {
	return string(s), nil
}

func (s staticText) Attribute(_ context.Context, _ string) (string, bool, error) {
	return "", false, nil
}

func (s staticText) Find(_ context.Context, _ string) (Element, error) {
	return nil, ErrElementNotFound
}

var testSelectors = Selectors{
	AdsContainer: "a[data-testid='adCard']",
	Title:        "p[data-testid='adTitle']",
	Price:        "span[data-testid='adPrice']",
	Location:     "span[data-testid='adLocation']",
}

// recordingSink captures written batches.
type recordingSink struct {
	batches [][]AdRecord
	closed  bool
	err     error
}

func (s *recordingSink) Write(_ context.Context, records []AdRecord) error {
	if s.err != nil {
		return s.err
	}
	batch := make([]AdRecord, len(records))
	copy(batch, records)
	s.batches = append(s.batches, batch)
	return nil
}

func (s *recordingSink) Close() error {
	s.closed = true
	return nil
}
