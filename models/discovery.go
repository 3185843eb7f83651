package models

import (
	"sort"
	"time"
)

// PaginationType tags how a discovered endpoint pages through results.
type PaginationType string

const (
	PaginationPage   PaginationType = "page"
	PaginationOffset PaginationType = "offset"
	PaginationCursor PaginationType = "cursor"
	PaginationBounds PaginationType = "bounds"
	PaginationNone   PaginationType = "none"
)

// BoundingBox is a geographic rectangle in degrees.
type BoundingBox struct {
	North float64 `json:"north"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	West  float64 `json:"west"`
}

// Valid reports whether the box has a positive area.
func (b *BoundingBox) Valid() bool {
	return b != nil && b.North > b.South && b.East > b.West
}

// DiscoveredEndpoint describes a private JSON API observed while a browser
// loaded the target page.
type DiscoveredEndpoint struct {
	URL             string            `json:"url"`
	Method          string            `json:"method"`
	Headers         map[string]string `json:"headers,omitempty"`
	Body            string            `json:"body,omitempty"`
	PaginationType  PaginationType    `json:"paginationType"`
	PaginationParam string            `json:"paginationParam,omitempty"`
	ListingsPath    string            `json:"listingsPath"`
	SampleCount     int               `json:"sampleCount"`
	Bounds          *BoundingBox      `json:"bounds,omitempty"`
	DiscoveredAt    time.Time         `json:"discoveredAt"`
}

// DiscoveryConfig is the persisted result of one discovery pass.
type DiscoveryConfig struct {
	Source       string               `json:"source"`
	TargetURL    string               `json:"targetUrl"`
	Endpoints    []DiscoveredEndpoint `json:"endpoints"`
	DiscoveredAt time.Time            `json:"discoveredAt"`
}

// Best returns the endpoints ordered by descending sample count.
func (c *DiscoveryConfig) Best() []DiscoveredEndpoint {
	if c == nil {
		return nil
	}
	out := make([]DiscoveredEndpoint, len(c.Endpoints))
	copy(out, c.Endpoints)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SampleCount > out[j].SampleCount
	})
	return out
}
