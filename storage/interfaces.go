// Package storage persists sources, listings, images, runs and discovery
// results.
package storage

import (
	"errors"

	"rental-ingest/models"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("storage: not found")

// RawListingWriter is the interface for persisting unprocessed upstream records.
type RawListingWriter interface {
	WriteRaw(source string, records []models.RawListing) error
	Close() error
}
