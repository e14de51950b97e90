package scraper

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionStats is a point-in-time snapshot of a crawl run. Duration and
// success rate are derived on read, never stored.
type SessionStats struct {
	RunID           string    `json:"run_id"`
	StartTime       time.Time `json:"start_time"`
	SuccessfulPages int       `json:"successful_pages"`
	FailedPages     int       `json:"failed_pages"`
	TotalAdsFound   int       `json:"total_ads_found"`
	Errors          []string  `json:"errors"`
	DurationSeconds float64   `json:"duration_seconds"`
	SuccessRate     float64   `json:"success_rate"`
}

// Session accumulates records and counters for one crawl run. All counters
// are monotonic. The engine is the only writer; the mutex exists so the
// monitor endpoint can take snapshots while a run is active.
type Session struct {
	mu        sync.Mutex
	id        string
	startTime time.Time
	clock     Clock

	successfulPages int
	failedPages     int
	totalAdsFound   int
	errors          []string
	records         []AdRecord
}

// NewSession starts a session clocked at construction time.
func NewSession(clock Clock) *Session {
	return &Session{
		id:        uuid.NewString(),
		startTime: clock.Now(),
		clock:     clock,
	}
}

// ID returns the run identifier.
func (s *Session) ID() string {
	return s.id
}

// RecordPageSuccess counts a structurally successful page load.
func (s *Session) RecordPageSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.successfulPages++
}

// RecordPageFailure counts a failed page.
func (s *Session) RecordPageFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failedPages++
}

// RecordError appends a description to the run's error log.
func (s *Session) RecordError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, msg)
}

// ErrorCount returns how many errors the run has accumulated; its value
// bounds the "too many errors" stop condition.
func (s *Session) ErrorCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.errors)
}

// AddRecords appends extracted records to the run's accumulated collection.
func (s *Session) AddRecords(records []AdRecord) {
	if len(records) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
}

// AddAdsFound bumps the total once a target completes.
func (s *Session) AddAdsFound(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalAdsFound += n
}

// Records returns a copy of the accumulated records in extraction order.
func (s *Session) Records() []AdRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AdRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Stats snapshots the session counters.
func (s *Session) Stats() SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := s.successfulPages + s.failedPages
	rate := 0.0
	if total > 0 {
		rate = float64(s.successfulPages) / float64(total) * 100
	}
	errs := make([]string, len(s.errors))
	copy(errs, s.errors)

	return SessionStats{
		RunID:           s.id,
		StartTime:       s.startTime,
		SuccessfulPages: s.successfulPages,
		FailedPages:     s.failedPages,
		TotalAdsFound:   s.totalAdsFound,
		Errors:          errs,
		DurationSeconds: s.clock.Now().Sub(s.startTime).Seconds(),
		SuccessRate:     rate,
	}
}
