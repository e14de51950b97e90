package scraper

import (
	"context"
	"time"
)

// timerSleeper blocks on a real timer but wakes early if the context ends,
// so an external interrupt unwinds the crawl without waiting out a pause.
type timerSleeper struct{}

func (timerSleeper) Pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
