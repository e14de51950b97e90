package scraper

import (
	"context"
	"time"
)

// extractAd pulls one record out of an ad element. Every field is extracted
// independently: a missing title or price degrades to a sentinel value
// instead of discarding the record.
func extractAd(ctx context.Context, el Element, sel Selectors, category, keyword string, page int, at time.Time) AdRecord {
	title := childText(ctx, el, sel.Title)

	rawPrice := childText(ctx, el, sel.Price)
	if rawPrice == "" {
		rawPrice = PriceUnavailable
	}

	url := ""
	if href, ok, err := el.Attribute(ctx, "href"); err == nil && ok {
		url = href
	}

	location := ""
	if sel.Location != "" {
		location = childText(ctx, el, sel.Location)
	}

	return NewAdRecord(title, rawPrice, url, location, category, keyword, page, at)
}

// childText returns the trimmed text of the first descendant matching
// selector, or "" when the descendant is missing or unreadable.
func childText(ctx context.Context, el Element, selector string) string {
	child, err := el.Find(ctx, selector)
	if err != nil {
		return ""
	}
	text, err := child.Text(ctx)
	if err != nil {
		return ""
	}
	return text
}
