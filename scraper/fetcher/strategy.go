package fetcher

import (
	"context"
	"fmt"
	"strings"

	"rental-ingest/models"
)

// Strategy pages through one endpoint. Every implementation is bounded by a
// hard request cap, whatever the upstream returns.
type Strategy interface {
	Fetch(ctx context.Context, p *pager, t *template, limit int) ([]models.RawListing, error)
}

func reached(out []models.RawListing, limit int) bool {
	return limit > 0 && len(out) >= limit
}

// incomplete reports a failure after the first page as ErrIncomplete so the
// caller can keep the pages it already has.
func incomplete(out []models.RawListing, err error) ([]models.RawListing, error) {
	if len(out) == 0 {
		return nil, err
	}
	return out, fmt.Errorf("%w: %w", ErrIncomplete, err)
}

type singleStrategy struct{}

func (singleStrategy) Fetch(ctx context.Context, p *pager, t *template, _ int) ([]models.RawListing, error) {
	listings, _, err := p.page(ctx, t)
	return listings, err
}

// pageStrategy counts a 1-based page param up to maxPages.
type pageStrategy struct {
	param    string
	maxPages int
}

func (s *pageStrategy) Fetch(ctx context.Context, p *pager, t *template, limit int) ([]models.RawListing, error) {
	var out []models.RawListing
	for page := 1; page <= s.maxPages; page++ {
		req := t.clone()
		if err := req.set(s.param, page); err != nil {
			return nil, err
		}
		listings, _, err := p.page(ctx, req)
		if err != nil {
			return incomplete(out, err)
		}
		if len(listings) == 0 {
			break
		}
		out = append(out, listings...)
		if reached(out, limit) {
			break
		}
	}
	return out, nil
}

var limitParams = []string{"limit", "pageSize", "page_size", "perPage", "per_page", "size", "count", "take", "rows", "hitsPerPage"}

// offsetStrategy advances an offset param by pageSize up to maxIterations.
// A limit-like param already present on the request is set to pageSize.
type offsetStrategy struct {
	param         string
	pageSize      int
	maxIterations int
}

func (s *offsetStrategy) Fetch(ctx context.Context, p *pager, t *template, limit int) ([]models.RawListing, error) {
	base := t.clone()
	for _, name := range limitParams {
		if base.has(name) {
			if err := base.set(name, s.pageSize); err != nil {
				return nil, err
			}
			break
		}
	}

	var out []models.RawListing
	for i := 0; i < s.maxIterations; i++ {
		req := base.clone()
		if err := req.set(s.param, i*s.pageSize); err != nil {
			return nil, err
		}
		listings, _, err := p.page(ctx, req)
		if err != nil {
			return incomplete(out, err)
		}
		if len(listings) == 0 {
			break
		}
		out = append(out, listings...)
		if reached(out, limit) {
			break
		}
	}
	return out, nil
}

// cursorStrategy follows the cursor each response carries. It stops on a
// missing or repeated cursor, an empty page, or after maxIterations requests.
type cursorStrategy struct {
	param         string
	maxIterations int
}

func (s *cursorStrategy) Fetch(ctx context.Context, p *pager, t *template, limit int) ([]models.RawListing, error) {
	req := t.clone()
	// the captured request may already point past the first page
	req.del(s.param)

	var out []models.RawListing
	seen := make(map[string]struct{})
	for i := 0; i < s.maxIterations; i++ {
		listings, body, err := p.page(ctx, req)
		if err != nil {
			return incomplete(out, err)
		}
		if len(listings) == 0 {
			break
		}
		out = append(out, listings...)
		if reached(out, limit) {
			break
		}

		cursor := nextCursor(body)
		if cursor == "" {
			break
		}
		if _, dup := seen[cursor]; dup {
			break
		}
		seen[cursor] = struct{}{}

		req = t.clone()
		if isLink(cursor) {
			req.del(s.param)
			if err := req.follow(cursor); err != nil {
				return incomplete(out, err)
			}
			continue
		}
		if err := req.set(s.param, cursor); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// isLink reports whether a cursor value is itself the next page's URL.
func isLink(cursor string) bool {
	return strings.HasPrefix(cursor, "https://") || strings.HasPrefix(cursor, "http://") ||
		(strings.HasPrefix(cursor, "/") && !strings.HasPrefix(cursor, "//"))
}

// boundsStrategy queries every tile of a gridSize×gridSize grid and keeps the
// first occurrence of each listing. Without a valid box it sends the request
// once as captured.
type boundsStrategy struct {
	box      *models.BoundingBox
	gridSize int
}

func (s *boundsStrategy) Fetch(ctx context.Context, p *pager, t *template, limit int) ([]models.RawListing, error) {
	if !s.box.Valid() {
		p.f.logger.Warn("bounds endpoint without a bounding box, sending a single request")
		return singleStrategy{}.Fetch(ctx, p, t, limit)
	}

	layout := detectBounds(t)
	var out []models.RawListing
	seen := make(map[string]struct{})
	var failures []error

	for _, tile := range Grid(*s.box, s.gridSize) {
		req := t.clone()
		if err := layout.write(req, tile); err != nil {
			return nil, err
		}
		listings, _, err := p.page(ctx, req)
		if err != nil {
			// one failing tile does not invalidate the others
			failures = append(failures, err)
			continue
		}
		for _, rec := range listings {
			key := identity(rec)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, rec)
		}
		if reached(out, limit) {
			break
		}
	}

	if len(failures) > 0 {
		return incomplete(out, fmt.Errorf("%d of %d tiles failed, first: %w", len(failures), s.gridSize*s.gridSize, failures[0]))
	}
	return out, nil
}
