package scraper

import (
	"context"
	"time"
)

// PageDriver abstracts a controllable browser session. Exactly one driver is
// owned by the engine for the lifetime of a run; it is never shared across
// concurrent callers.
type PageDriver interface {
	// Navigate loads the given URL. Navigation or session faults are
	// reported wrapped in ErrDriverFailure.
	Navigate(ctx context.Context, url string) error

	// PageText returns the full rendered markup of the current page.
	PageText(ctx context.Context) (string, error)

	// Elements returns handles for every element matching selector. A page
	// with no matches yields an empty slice, not an error.
	Elements(ctx context.Context, selector string) ([]Element, error)

	// ElementVisible reports whether at least one element matching selector
	// is present and visible.
	ElementVisible(ctx context.Context, selector string) (bool, error)

	// WaitVisible blocks until an element matching selector becomes visible
	// or the timeout elapses, in which case it returns ErrWaitTimeout.
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error

	// Close releases the browser session.
	Close() error
}

// Element is a handle to a single rendered DOM element.
type Element interface {
	// Text returns the element's visible text.
	Text(ctx context.Context) (string, error)

	// Attribute returns the named attribute and whether it is set.
	Attribute(ctx context.Context, name string) (string, bool, error)

	// Find returns the first descendant matching selector, or
	// ErrElementNotFound.
	Find(ctx context.Context, selector string) (Element, error)
}

// RecordSink consumes extracted records. Implementations must not mutate the
// records they receive.
type RecordSink interface {
	Write(ctx context.Context, records []AdRecord) error
	Close() error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Sleeper abstracts how the engine blocks between requests.
type Sleeper interface {
	Pause(ctx context.Context, d time.Duration)
}
