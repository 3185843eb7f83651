// Package browser owns the headless Chrome process shared by discovery and
// the HTML fallback scraper.
package browser

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"rental-ingest/utils"
)

// Options configure the Chrome process.
type Options struct {
	ChromeBin string
	Headless  bool
	UserAgent string
}

// Browser starts Chrome on first use and hands out tabs.
type Browser struct {
	opts   Options
	logger utils.Logger

	once        sync.Once
	startErr    error
	browserCtx  context.Context
	cancelAlloc context.CancelFunc
	cancelCtx   context.CancelFunc
}

func New(opts Options, logger utils.Logger) *Browser {
	return &Browser{opts: opts, logger: logger.With(zap.String("component", "browser"))}
}

func (b *Browser) start() error {
	b.once.Do(func() {
		chromeBin := FindChromeBinary(b.opts.ChromeBin)
		b.logger.Info("starting browser", zap.String("binary", chromeBin), zap.Bool("headless", b.opts.Headless))

		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", b.opts.Headless),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
			chromedp.WindowSize(1366, 900),
		)
		if b.opts.UserAgent != "" {
			opts = append(opts, chromedp.UserAgent(b.opts.UserAgent))
		}
		if chromeBin != "" {
			opts = append(opts, chromedp.ExecPath(chromeBin))
		}

		allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
		// chromedp log noise is not useful here
		browserCtx, cancelCtx := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))

		// running no actions launches the process so later tabs share it
		if err := chromedp.Run(browserCtx); err != nil {
			cancelCtx()
			cancelAlloc()
			b.startErr = fmt.Errorf("browser: launch chrome: %w", err)
			return
		}
		b.browserCtx, b.cancelAlloc, b.cancelCtx = browserCtx, cancelAlloc, cancelCtx
	})
	return b.startErr
}

// Tab opens a new tab. The tab closes when cancel is called or when ctx is
// done, whichever happens first.
func (b *Browser) Tab(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if err := b.start(); err != nil {
		return nil, nil, err
	}
	tabCtx, cancel := chromedp.NewContext(b.browserCtx)
	stop := context.AfterFunc(ctx, cancel)
	return tabCtx, func() {
		stop()
		cancel()
	}, nil
}

// Close shuts Chrome down. It is safe to call when Chrome never started.
func (b *Browser) Close() {
	if b.cancelCtx != nil {
		b.cancelCtx()
	}
	if b.cancelAlloc != nil {
		b.cancelAlloc()
	}
}

// FindChromeBinary locates a Chrome/Chromium binary. An explicit path wins,
// then CHROME_BIN, then well-known names and locations. An empty result lets
// chromedp use its own lookup.
func FindChromeBinary(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
