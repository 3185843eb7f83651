package ingest

import (
	"context"

	"rental-ingest/models"
	"rental-ingest/scraper/fallback"
	"rental-ingest/services/images"
)

type SourceStore interface {
	GetSource(ctx context.Context, name string) (*models.Source, error)
	// EnsureSource creates the source or updates its target and kind,
	// returning the stored row.
	EnsureSource(ctx context.Context, src *models.Source) (*models.Source, error)
	ListSources(ctx context.Context) ([]*models.Source, error)
}

type RunStore interface {
	CreateRun(ctx context.Context, run *models.IngestRun) error
	UpdateRunStatus(ctx context.Context, id string, status models.RunStatus) error
	FinishRun(ctx context.Context, run *models.IngestRun) error
}

type ListingStore interface {
	// UpsertListing stores l under its natural key and returns the row id.
	UpsertListing(ctx context.Context, sourceID string, l *models.NormalizedListing) (string, error)
}

// DiscoveryStore persists discovery results per source. Load returns nil
// without error when nothing was saved yet.
type DiscoveryStore interface {
	Load(source string) (*models.DiscoveryConfig, error)
	Save(cfg *models.DiscoveryConfig) error
}

type Discoverer interface {
	Discover(ctx context.Context, source, targetURL string) (*models.DiscoveryConfig, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, ep models.DiscoveredEndpoint, settings models.SourceSettings, limit int) ([]models.RawListing, error)
}

type FallbackScraper interface {
	Scrape(ctx context.Context, targetURL string) (*fallback.Result, error)
}

type ImageDownloader interface {
	Download(ctx context.Context, listingID string, urls []string, hints map[string]models.ImageSize) images.Result
}

// RunLocker grants one holder per key. ok is false when another holder has
// the key.
type RunLocker interface {
	TryLock(ctx context.Context, key string) (release func(context.Context) error, ok bool, err error)
}

// RawListingWriter records fetched records before normalization.
type RawListingWriter interface {
	WriteRaw(source string, records []models.RawListing) error
}
