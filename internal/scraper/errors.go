package scraper

import "errors"

// Sentinel errors distinguishing the page driver's failure modes. Callers
// match them with errors.Is.
var (
	// ErrDriverFailure marks navigation or browser-session faults.
	ErrDriverFailure = errors.New("page driver failure")

	// ErrWaitTimeout marks a wait condition that was not met in time.
	ErrWaitTimeout = errors.New("wait timed out")

	// ErrElementNotFound marks a missing element during extraction.
	ErrElementNotFound = errors.New("element not found")
)
