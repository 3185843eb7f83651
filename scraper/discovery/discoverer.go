// Package discovery finds the private JSON APIs a listings page loads its
// data from.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"rental-ingest/metrics"
	"rental-ingest/models"
	"rental-ingest/scraper/browser"
	"rental-ingest/utils"
)

// mapSelectors match common map widgets. Clicking and zooming one makes
// viewport-scoped search endpoints fire.
var mapSelectors = []string{
	".mapboxgl-canvas",
	".leaflet-container",
	".gm-style",
	"[class*='map-container']",
	"[class*='MapContainer']",
	"[id*='map']",
	"[data-testid*='map']",
}

const interactJS = `(function(selectors) {
	for (var i = 0; i < selectors.length; i++) {
		var el = document.querySelector(selectors[i]);
		if (!el) continue;
		var r = el.getBoundingClientRect();
		if (r.width === 0 || r.height === 0) continue;
		var x = r.left + r.width / 2, y = r.top + r.height / 2;
		el.dispatchEvent(new MouseEvent('click', {bubbles: true, clientX: x, clientY: y}));
		el.dispatchEvent(new WheelEvent('wheel', {bubbles: true, clientX: x, clientY: y, deltaY: -240}));
		var zoom = document.querySelector('.leaflet-control-zoom-in, .mapboxgl-ctrl-zoom-in, button[aria-label="Zoom in"]');
		if (zoom) zoom.click();
		return selectors[i];
	}
	return '';
})(%s)`

// Config tunes the capture session.
type Config struct {
	Timeout      time.Duration
	ScrollSteps  int
	ScrollPause  time.Duration
	Settle       time.Duration
	MaxBodyBytes int64
}

// Discoverer loads a target page in Chrome and records listing endpoints.
type Discoverer struct {
	browser *browser.Browser
	cfg     Config
	logger  utils.Logger
	now     func() time.Time
}

func New(b *browser.Browser, cfg Config, logger utils.Logger) *Discoverer {
	return &Discoverer{
		browser: b,
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "discovery")),
		now:     time.Now,
	}
}

// Discover returns the endpoints observed while targetURL loaded. Page
// errors are logged and whatever was captured until then is returned; zero
// endpoints is a valid result. Only a browser that cannot start is an error.
func (d *Discoverer) Discover(ctx context.Context, source, targetURL string) (*models.DiscoveryConfig, error) {
	tabCtx, cancelTab, err := d.browser.Tab(ctx)
	if err != nil {
		return nil, err
	}
	defer cancelTab()

	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		tabCtx, cancel = context.WithTimeout(tabCtx, d.cfg.Timeout)
		defer cancel()
	}

	log := d.logger.With(zap.String("source", source), zap.String("target", targetURL))
	capt := newCapture(func(id network.RequestID) ([]byte, error) {
		c := chromedp.FromContext(tabCtx)
		return network.GetResponseBody(id).Do(cdp.WithExecutor(tabCtx, c.Target))
	}, int(d.cfg.MaxBodyBytes), log)
	chromedp.ListenTarget(tabCtx, capt.onEvent)

	log.Info("discovery started")
	if err := chromedp.Run(tabCtx, network.Enable(), chromedp.Navigate(targetURL)); err != nil {
		log.Warn("page load failed", zap.Error(err))
	} else {
		d.drive(tabCtx, log)
	}

	cands, inspected := capt.results()
	endpoints := BuildEndpoints(cands, d.now().UTC())
	metrics.DiscoveredEndpoints.WithLabelValues(source).Set(float64(len(endpoints)))

	log.Info("discovery finished",
		zap.Int("json_responses", inspected),
		zap.Int("candidates", len(cands)),
		zap.Int("endpoints", len(endpoints)))

	return &models.DiscoveryConfig{
		Source:       source,
		TargetURL:    targetURL,
		Endpoints:    endpoints,
		DiscoveredAt: d.now().UTC(),
	}, nil
}

// drive scrolls the page, pokes a map widget once and lets traffic settle.
// Each step's failure is logged and the remaining steps still run.
func (d *Discoverer) drive(ctx context.Context, log utils.Logger) {
	for i := 0; i < d.cfg.ScrollSteps; i++ {
		err := chromedp.Run(ctx,
			chromedp.Evaluate(`window.scrollBy(0, Math.round(window.innerHeight * 0.8))`, nil),
			chromedp.Sleep(d.cfg.ScrollPause),
		)
		if err != nil {
			log.Warn("scroll failed", zap.Int("step", i+1), zap.Error(err))
			return
		}
	}

	selectors, _ := json.Marshal(mapSelectors)
	var clicked string
	if err := chromedp.Run(ctx, chromedp.Evaluate(fmt.Sprintf(interactJS, string(selectors)), &clicked)); err != nil {
		log.Warn("map interaction failed", zap.Error(err))
	} else if clicked != "" {
		log.Debug("map widget zoomed", zap.String("selector", clicked))
	}

	if err := chromedp.Run(ctx, chromedp.Sleep(d.cfg.Settle)); err != nil {
		log.Warn("settle interrupted", zap.Error(err))
	}
}
