package scraper

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Sentinel values substituted when a field cannot be extracted. Extraction is
// field-by-field fault tolerant: a missing title or price never discards the
// whole record.
const (
	TitleUnavailable = "title unavailable"
	PriceUnavailable = "price unavailable"
)

// AdRecord is one scraped listing. Records are created once during page
// extraction and never mutated afterwards.
type AdRecord struct {
	Title      string    `json:"title"`
	RawPrice   string    `json:"raw_price"`
	CleanPrice *float64  `json:"clean_price"`
	URL        string    `json:"url"`
	Location   string    `json:"location,omitempty"`
	Category   string    `json:"category"`
	Keyword    string    `json:"keyword"`
	PageNumber int       `json:"page_number"`
	ScrapedAt  time.Time `json:"scraped_at"`
}

// NewAdRecord builds a record, applying sentinel defaults and price cleaning.
func NewAdRecord(title, rawPrice, url, location, category, keyword string, page int, at time.Time) AdRecord {
	title = strings.TrimSpace(title)
	if title == "" {
		title = TitleUnavailable
	}
	return AdRecord{
		Title:      title,
		RawPrice:   rawPrice,
		CleanPrice: ParsePrice(rawPrice),
		URL:        url,
		Location:   location,
		Category:   category,
		Keyword:    keyword,
		PageNumber: page,
		ScrapedAt:  at,
	}
}

// priceRe matches a leading numeric run optionally terminated by a currency
// marker, after whitespace has been stripped.
var priceRe = regexp.MustCompile(`([0-9][0-9.,]*)(?:€|EUR|$)`)

// freeMarkers are price strings meaning "free or negotiable", parsed as 0.
var freeMarkers = map[string]struct{}{
	"gratuit":    {},
	"free":       {},
	"à débattre": {},
	"a debattre": {},
}

// ParsePrice extracts a nonnegative numeric price from the displayed price
// text. It returns 0 for free/negotiable listings and nil when the text holds
// no parseable number.
func ParsePrice(raw string) *float64 {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		zero := 0.0
		return &zero
	}
	if _, ok := freeMarkers[strings.ToLower(trimmed)]; ok {
		zero := 0.0
		return &zero
	}

	compact := strings.Map(func(r rune) rune {
		// Drop regular, non-breaking, and narrow non-breaking spaces used
		// as thousands separators.
		if r == ' ' || r == ' ' || r == ' ' {
			return -1
		}
		return r
	}, trimmed)

	match := priceRe.FindStringSubmatch(compact)
	if match == nil {
		return nil
	}
	value, err := strconv.ParseFloat(strings.ReplaceAll(match[1], ",", "."), 64)
	if err != nil || value < 0 {
		return nil
	}
	return &value
}
