package models

import "time"

// StoredImage is one mirrored listing photo. Identity is the content
// checksum, not the URL it was fetched from.
type StoredImage struct {
	ID             string    `json:"id" db:"id"`
	ListingID      string    `json:"listingId" db:"listing_id"`
	OriginalURL    string    `json:"originalUrl" db:"original_url"`
	StoredPath     string    `json:"storedPath" db:"stored_path"`
	StoredURL      string    `json:"storedUrl" db:"stored_url"`
	Width          *int      `json:"width" db:"width"`
	Height         *int      `json:"height" db:"height"`
	MimeType       string    `json:"mimeType" db:"mime_type"`
	ChecksumSHA256 string    `json:"checksumSha256" db:"checksum_sha256"`
	SortOrder      int       `json:"sortOrder" db:"sort_order"`
	CreatedAt      time.Time `json:"createdAt" db:"created_at"`
}
