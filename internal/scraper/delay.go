package scraper

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// backoffCap saturates the exponential backoff; with five or more recent
// errors the base delay is already pinned at maxDelay.
const backoffCap = 5

// DelayManager computes adaptive inter-request pacing from a rolling error
// count. It is not safe for concurrent use; the engine's single control
// goroutine owns it.
type DelayManager struct {
	minDelay time.Duration
	maxDelay time.Duration

	consecutiveErrors int
	lastRequest       time.Time

	clock     Clock
	sleeper   Sleeper
	randFloat func() float64
}

// DelayOption customizes a DelayManager, mainly for tests.
type DelayOption func(*DelayManager)

// WithDelayClock substitutes the time source.
func WithDelayClock(c Clock) DelayOption {
	return func(m *DelayManager) { m.clock = c }
}

// WithDelaySleeper substitutes the blocking primitive.
func WithDelaySleeper(s Sleeper) DelayOption {
	return func(m *DelayManager) { m.sleeper = s }
}

// WithDelayRand substitutes the uniform [0,1) source used for jitter.
func WithDelayRand(f func() float64) DelayOption {
	return func(m *DelayManager) { m.randFloat = f }
}

// NewDelayManager builds a pacer bounded by [minDelay, maxDelay].
func NewDelayManager(minDelay, maxDelay time.Duration, opts ...DelayOption) *DelayManager {
	m := &DelayManager{
		minDelay:  minDelay,
		maxDelay:  maxDelay,
		clock:     systemClock{},
		sleeper:   timerSleeper{},
		randFloat: rand.Float64,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// WaitBetweenRequests blocks for an adaptively computed duration and returns
// how long it actually slept. The backoff grows 1.2x per recent error,
// saturates at maxDelay, and is jittered by ±20%. Time already spent since
// the previous request counts toward the interval, making this a rate
// limiter rather than a fixed pause.
func (m *DelayManager) WaitBetweenRequests(ctx context.Context) time.Duration {
	errs := m.consecutiveErrors
	if errs > backoffCap {
		errs = backoffCap
	}
	base := float64(m.minDelay) * math.Pow(1.2, float64(errs))
	if base > float64(m.maxDelay) {
		base = float64(m.maxDelay)
	}

	jitter := 0.8 + 0.4*m.randFloat()
	delay := time.Duration(base * jitter)

	if !m.lastRequest.IsZero() {
		elapsed := m.clock.Now().Sub(m.lastRequest)
		delay -= elapsed
		if delay < 0 {
			delay = 0
		}
	}

	if delay > 0 {
		m.sleeper.Pause(ctx, delay)
	}
	m.lastRequest = m.clock.Now()
	return delay
}

// RecordSuccess relaxes the backoff one step, never below zero.
func (m *DelayManager) RecordSuccess() {
	if m.consecutiveErrors > 0 {
		m.consecutiveErrors--
	}
}

// RecordError tightens the backoff one step.
func (m *DelayManager) RecordError() {
	m.consecutiveErrors++
}

// ConsecutiveErrors exposes the rolling error count.
func (m *DelayManager) ConsecutiveErrors() int {
	return m.consecutiveErrors
}

// WaitAfterAnomaly blocks for base plus a uniform 10-30s extra, used as the
// long cooldown after rate limiting. It returns the total wait.
func (m *DelayManager) WaitAfterAnomaly(ctx context.Context, base time.Duration) time.Duration {
	extra := time.Duration((10 + 20*m.randFloat()) * float64(time.Second))
	total := base + extra
	m.sleeper.Pause(ctx, total)
	return total
}

// systemClock is the default real time source.
type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}
