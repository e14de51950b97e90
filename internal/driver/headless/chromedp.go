// Package headless implements the scraper's page driver on top of a headless
// (or headful, for manual CAPTCHA solving) Chrome session driven via the
// DevTools protocol.
package headless

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"

	"github.com/pvaillant/adwatch/internal/scraper"
)

// Config controls the browser session.
type Config struct {
	Headless          bool
	UserAgent         string
	NavigationTimeout time.Duration
	// OpTimeout bounds individual element queries and reads.
	OpTimeout time.Duration
}

// Driver owns one browser session for the lifetime of a run. It is not safe
// for concurrent use; the engine's single control goroutine owns it.
type Driver struct {
	cfg           Config
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// New launches the browser and verifies the session comes up.
func New(cfg Config) (*Driver, error) {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 10 * time.Second
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1920, 1080),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	d := &Driver{
		cfg:           cfg,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}

	if err := chromedp.Run(browserCtx, d.sessionSetupAction()); err != nil {
		d.Close()
		return nil, fmt.Errorf("start browser session: %w", err)
	}
	return d, nil
}

func (d *Driver) sessionSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if d.cfg.UserAgent == "" {
			return nil
		}
		if err := emulation.SetUserAgentOverride(d.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
}

// Navigate loads url and waits for the document body to be ready.
func (d *Driver) Navigate(ctx context.Context, url string) error {
	tctx, cancel := d.opContext(ctx, d.cfg.NavigationTimeout)
	defer cancel()

	err := chromedp.Run(tctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("%w: navigate %s: %v", scraper.ErrDriverFailure, url, err)
	}
	return nil
}

// PageText returns the fully rendered document markup.
func (d *Driver) PageText(ctx context.Context) (string, error) {
	tctx, cancel := d.opContext(ctx, d.cfg.OpTimeout)
	defer cancel()

	var html string
	if err := chromedp.Run(tctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("%w: read page text: %v", scraper.ErrDriverFailure, err)
	}
	return html, nil
}

// Elements returns handles for every element matching selector; no matches
// is an empty slice, not an error.
func (d *Driver) Elements(ctx context.Context, selector string) ([]scraper.Element, error) {
	tctx, cancel := d.opContext(ctx, d.cfg.OpTimeout)
	defer cancel()

	var nodes []*cdp.Node
	err := chromedp.Run(tctx,
		chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: query %q: %v", scraper.ErrDriverFailure, selector, err)
	}

	elements := make([]scraper.Element, 0, len(nodes))
	for _, node := range nodes {
		elements = append(elements, &element{driver: d, node: node})
	}
	return elements, nil
}

// ElementVisible reports whether selector matches a rendered, visible element.
func (d *Driver) ElementVisible(ctx context.Context, selector string) (bool, error) {
	tctx, cancel := d.opContext(ctx, d.cfg.OpTimeout)
	defer cancel()

	script := fmt.Sprintf(
		`(() => { const el = document.querySelector(%q);
			return !!el && !!(el.offsetWidth || el.offsetHeight || el.getClientRects().length); })()`,
		selector,
	)
	var visible bool
	if err := chromedp.Run(tctx, chromedp.Evaluate(script, &visible)); err != nil {
		return false, fmt.Errorf("%w: visibility check %q: %v", scraper.ErrDriverFailure, selector, err)
	}
	return visible, nil
}

// WaitVisible blocks until selector is visible or timeout elapses.
func (d *Driver) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	tctx, cancel := d.opContext(ctx, timeout)
	defer cancel()

	err := chromedp.Run(tctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: selector %q after %s", scraper.ErrWaitTimeout, selector, timeout)
	default:
		return fmt.Errorf("%w: wait for %q: %v", scraper.ErrDriverFailure, selector, err)
	}
}

// Close tears down the browser session and its allocator.
func (d *Driver) Close() error {
	d.browserCancel()
	d.allocCancel()
	return nil
}

// opContext derives a deadline-bound chromedp context that also honors the
// caller's cancellation.
func (d *Driver) opContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	tctx, cancel := context.WithTimeout(d.browserCtx, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return tctx, func() {
		stop()
		cancel()
	}
}

// element is a live handle to one DOM node.
type element struct {
	driver *Driver
	node   *cdp.Node
}

// Text returns the node's visible text.
func (e *element) Text(ctx context.Context) (string, error) {
	tctx, cancel := e.driver.opContext(ctx, e.driver.cfg.OpTimeout)
	defer cancel()

	var text string
	err := chromedp.Run(tctx,
		chromedp.Text([]cdp.NodeID{e.node.NodeID}, &text, chromedp.ByNodeID),
	)
	if err != nil {
		return "", fmt.Errorf("%w: element text: %v", scraper.ErrDriverFailure, err)
	}
	return text, nil
}

// Attribute returns the named attribute and whether it is present.
func (e *element) Attribute(ctx context.Context, name string) (string, bool, error) {
	tctx, cancel := e.driver.opContext(ctx, e.driver.cfg.OpTimeout)
	defer cancel()

	var (
		value string
		ok    bool
	)
	err := chromedp.Run(tctx,
		chromedp.AttributeValue([]cdp.NodeID{e.node.NodeID}, name, &value, &ok, chromedp.ByNodeID),
	)
	if err != nil {
		return "", false, fmt.Errorf("%w: attribute %q: %v", scraper.ErrDriverFailure, name, err)
	}
	return value, ok, nil
}

// Find returns the first descendant matching selector.
func (e *element) Find(ctx context.Context, selector string) (scraper.Element, error) {
	tctx, cancel := e.driver.opContext(ctx, e.driver.cfg.OpTimeout)
	defer cancel()

	var nodes []*cdp.Node
	err := chromedp.Run(tctx,
		chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.FromNode(e.node), chromedp.AtLeast(0)),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: find %q: %v", scraper.ErrDriverFailure, selector, err)
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: %q", scraper.ErrElementNotFound, selector)
	}
	return &element{driver: e.driver, node: nodes[0]}, nil
}
