// Package fetcher replays discovered JSON endpoints and pages through their
// results.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"rental-ingest/metrics"
	"rental-ingest/models"
	"rental-ingest/utils"
)

// Default bounds for each pagination strategy.
const (
	DefaultMaxPages            = 100
	DefaultOffsetPageSize      = 50
	DefaultMaxOffsetIterations = 200
	DefaultMaxCursorIterations = 200
	DefaultGridSize            = 4
)

var (
	// ErrUnsupportedPagination is returned for an unknown pagination tag.
	ErrUnsupportedPagination = errors.New("fetcher: unsupported pagination type")
	// ErrIncomplete wraps a failure after some pages were already fetched.
	// The listings returned alongside it are usable.
	ErrIncomplete = errors.New("fetcher: pagination stopped early")
)

// Config holds the fetcher's defaults. Zero values select the package
// defaults.
type Config struct {
	MaxPages            int
	OffsetPageSize      int
	MaxOffsetIterations int
	MaxCursorIterations int
	GridSize            int
	RequestTimeout      time.Duration
	MaxResponseBytes    int64
	UserAgent           string
}

// Limits are the effective caps for one fetch.
type Limits struct {
	MaxPages            int
	OffsetPageSize      int
	MaxOffsetIterations int
	MaxCursorIterations int
	GridSize            int
	Bounds              *models.BoundingBox
}

// Fetcher issues rate-limited, retried requests against discovered endpoints.
type Fetcher struct {
	cfg     Config
	client  *http.Client
	limiter *utils.HostLimiter
	retry   utils.RetryPolicy
	logger  utils.Logger
}

func New(cfg Config, client *http.Client, limiter *utils.HostLimiter, retry utils.RetryPolicy, logger utils.Logger) *Fetcher {
	return &Fetcher{
		cfg:     cfg,
		client:  client,
		limiter: limiter,
		retry:   retry,
		logger:  logger.With(zap.String("component", "fetcher")),
	}
}

// LimitsFor merges per-source settings over the configured defaults.
func (f *Fetcher) LimitsFor(s models.SourceSettings) Limits {
	l := Limits{
		MaxPages:            orDefault(f.cfg.MaxPages, DefaultMaxPages),
		OffsetPageSize:      orDefault(f.cfg.OffsetPageSize, DefaultOffsetPageSize),
		MaxOffsetIterations: orDefault(f.cfg.MaxOffsetIterations, DefaultMaxOffsetIterations),
		MaxCursorIterations: orDefault(f.cfg.MaxCursorIterations, DefaultMaxCursorIterations),
		GridSize:            orDefault(f.cfg.GridSize, DefaultGridSize),
		Bounds:              s.Bounds,
	}
	if s.MaxPages > 0 {
		l.MaxPages = s.MaxPages
	}
	if s.MaxIterations > 0 {
		l.MaxOffsetIterations = s.MaxIterations
		l.MaxCursorIterations = s.MaxIterations
	}
	if s.GridSize > 0 {
		l.GridSize = s.GridSize
	}
	return l
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// StrategyFor selects the pagination strategy for the endpoint's tag.
func StrategyFor(ep *models.DiscoveredEndpoint, lim Limits) (Strategy, error) {
	switch ep.PaginationType {
	case models.PaginationPage:
		return &pageStrategy{param: paramOr(ep.PaginationParam, "page"), maxPages: lim.MaxPages}, nil
	case models.PaginationOffset:
		return &offsetStrategy{
			param:         paramOr(ep.PaginationParam, "offset"),
			pageSize:      lim.OffsetPageSize,
			maxIterations: lim.MaxOffsetIterations,
		}, nil
	case models.PaginationCursor:
		return &cursorStrategy{param: paramOr(ep.PaginationParam, "cursor"), maxIterations: lim.MaxCursorIterations}, nil
	case models.PaginationBounds:
		box := lim.Bounds
		if !box.Valid() {
			box = ep.Bounds
		}
		return &boundsStrategy{box: box, gridSize: lim.GridSize}, nil
	case models.PaginationNone, "":
		return singleStrategy{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedPagination, ep.PaginationType)
	}
}

func paramOr(param, def string) string {
	if param != "" {
		return param
	}
	return def
}

// Fetch pages through ep and returns its raw listings, truncated to limit
// when limit is positive. On ErrIncomplete the returned listings are the
// pages fetched before the failure.
func (f *Fetcher) Fetch(ctx context.Context, ep models.DiscoveredEndpoint, settings models.SourceSettings, limit int) ([]models.RawListing, error) {
	strategy, err := StrategyFor(&ep, f.LimitsFor(settings))
	if err != nil {
		return nil, err
	}
	tmpl, err := newTemplate(&ep)
	if err != nil {
		return nil, err
	}

	f.logger.Info("fetching endpoint",
		zap.String("url", ep.URL),
		zap.String("pagination", string(ep.PaginationType)),
		zap.String("param", ep.PaginationParam))

	pager := &pager{f: f, listingsPath: ep.ListingsPath}
	listings, err := strategy.Fetch(ctx, pager, tmpl, limit)
	if limit > 0 && len(listings) > limit {
		listings = listings[:limit]
	}

	f.logger.Info("endpoint fetched",
		zap.String("url", ep.URL),
		zap.Int("requests", pager.requests),
		zap.Int("listings", len(listings)),
		zap.Error(err))
	return listings, err
}

// pager performs single page requests for a strategy.
type pager struct {
	f            *Fetcher
	listingsPath string
	requests     int
}

// page fetches one request and returns its listings plus the raw body.
func (p *pager) page(ctx context.Context, t *template) ([]models.RawListing, []byte, error) {
	body, err := p.f.do(ctx, t)
	p.requests++
	if err != nil {
		return nil, nil, err
	}
	listings, err := extractListings(body, p.listingsPath)
	if err != nil {
		return nil, nil, fmt.Errorf("%w from %s", err, t.url.String())
	}
	return listings, body, nil
}

func (f *Fetcher) do(ctx context.Context, t *template) ([]byte, error) {
	target := t.url.String()
	var body []byte
	err := f.retry.Do(ctx, "fetch "+target, func(ctx context.Context) error {
		if err := f.limiter.Wait(ctx, utils.HostKey(target)); err != nil {
			return err
		}

		reqCtx := ctx
		if f.cfg.RequestTimeout > 0 {
			var cancel context.CancelFunc
			reqCtx, cancel = context.WithTimeout(ctx, f.cfg.RequestTimeout)
			defer cancel()
		}
		req, err := t.request(reqCtx, f.cfg.UserAgent)
		if err != nil {
			return err
		}

		start := time.Now()
		data, err := f.send(req)
		metrics.ObserveRequest("fetcher", err, time.Since(start).Seconds())
		if err != nil {
			return err
		}
		body = data
		return nil
	})
	return body, err
}

func (f *Fetcher) send(req *http.Request) ([]byte, error) {
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &utils.StatusError{Code: resp.StatusCode, URL: req.URL.String()}
	}
	return utils.ReadLimited(resp.Body, f.cfg.MaxResponseBytes)
}
