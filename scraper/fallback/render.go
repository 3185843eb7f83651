package fallback

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"rental-ingest/scraper/browser"
)

// Renderer returns the HTML of a page after its scripts have run.
type Renderer interface {
	Render(ctx context.Context, pageURL string) (string, error)
}

// ChromeRenderer renders pages in a tab of the shared browser.
type ChromeRenderer struct {
	browser *browser.Browser
	settle  time.Duration
	timeout time.Duration
}

func NewChromeRenderer(b *browser.Browser, settle, timeout time.Duration) *ChromeRenderer {
	return &ChromeRenderer{browser: b, settle: settle, timeout: timeout}
}

func (r *ChromeRenderer) Render(ctx context.Context, pageURL string) (string, error) {
	tabCtx, cancel, err := r.browser.Tab(ctx)
	if err != nil {
		return "", err
	}
	defer cancel()

	if r.timeout > 0 {
		var cancelTimeout context.CancelFunc
		tabCtx, cancelTimeout = context.WithTimeout(tabCtx, r.timeout)
		defer cancelTimeout()
	}

	var html string
	err = chromedp.Run(tabCtx,
		chromedp.Navigate(pageURL),
		chromedp.Sleep(r.settle),

		// lazy cards and galleries load on scroll
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight / 2)`, nil),
		chromedp.Sleep(r.settle/2),
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
		chromedp.Sleep(r.settle/2),

		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("chromedp render: %w", err)
	}
	return html, nil
}
