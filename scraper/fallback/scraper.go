// Package fallback scrapes listings out of rendered HTML for sources that
// expose no usable JSON endpoint.
package fallback

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"rental-ingest/metrics"
	"rental-ingest/models"
	"rental-ingest/utils"
)

// DefaultMaxDetailPages bounds the detail pages visited per scrape.
const DefaultMaxDetailPages = 50

type Config struct {
	MaxDetailPages int
}

// PageError is a detail page that could not be loaded.
type PageError struct {
	URL string
	Err error
}

// Result holds the records scraped from the detail pages that loaded and the
// pages that did not.
type Result struct {
	Listings []models.RawListing
	Failed   []PageError
	Visited  int
}

type Scraper struct {
	pages   Renderer
	limiter *utils.HostLimiter
	retry   utils.RetryPolicy
	cfg     Config
	logger  utils.Logger
}

func New(pages Renderer, limiter *utils.HostLimiter, retry utils.RetryPolicy, cfg Config, logger utils.Logger) *Scraper {
	if cfg.MaxDetailPages <= 0 {
		cfg.MaxDetailPages = DefaultMaxDetailPages
	}
	return &Scraper{
		pages:   pages,
		limiter: limiter,
		retry:   retry,
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "fallback")),
	}
}

// Scrape renders targetURL, follows its detail links and parses each detail
// page. Only a target page that cannot be loaded is an error; failed detail
// pages are reported in the result.
func (s *Scraper) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	index, err := s.load(ctx, targetURL)
	if err != nil {
		return nil, fmt.Errorf("fallback: load %s: %w", targetURL, err)
	}

	links := HarvestLinks(index, targetURL)
	s.logger.Info("detail links harvested", zap.String("target", targetURL), zap.Int("links", len(links)))
	if len(links) > s.cfg.MaxDetailPages {
		links = links[:s.cfg.MaxDetailPages]
	}

	res := &Result{}
	for _, link := range links {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res.Visited++

		page, err := s.load(ctx, link)
		if err != nil {
			s.logger.Warn("detail page failed", zap.String("url", link), zap.Error(err))
			res.Failed = append(res.Failed, PageError{URL: link, Err: err})
			continue
		}

		recs := ParseDetail(page, link)
		if len(recs) == 0 {
			s.logger.Debug("no listing on detail page", zap.String("url", link))
			continue
		}
		res.Listings = append(res.Listings, recs...)
	}

	s.logger.Info("fallback scrape finished",
		zap.Int("visited", res.Visited),
		zap.Int("listings", len(res.Listings)),
		zap.Int("failed", len(res.Failed)))
	return res, nil
}

func (s *Scraper) load(ctx context.Context, pageURL string) (*goquery.Document, error) {
	var html string
	err := s.retry.Do(ctx, "render "+pageURL, func(ctx context.Context) error {
		if err := s.limiter.Wait(ctx, utils.HostKey(pageURL)); err != nil {
			return err
		}
		start := time.Now()
		h, err := s.pages.Render(ctx, pageURL)
		metrics.ObserveRequest("fallback", err, time.Since(start).Seconds())
		if err != nil {
			return err
		}
		html = h
		return nil
	})
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}
