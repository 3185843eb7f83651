package models

import (
	"encoding/json"
	"time"
)

// RawListing is one upstream record exactly as decoded from JSON or scraped
// from a page. Field names vary by source.
type RawListing map[string]any

// PriceRange holds the bounds parsed from a price field. Both are nil when no
// price could be read.
type PriceRange struct {
	Min *float64 `json:"min"`
	Max *float64 `json:"max"`
}

// Contact is any subset of the listing's contact details.
type Contact struct {
	Phone *string `json:"phone,omitempty"`
	Email *string `json:"email,omitempty"`
	Name  *string `json:"name,omitempty"`
}

// Empty reports whether no contact field is set.
func (c *Contact) Empty() bool {
	return c == nil || (c.Phone == nil && c.Email == nil && c.Name == nil)
}

// ImageSize is a width/height pair carried by some media references.
type ImageSize struct {
	Width  *int `json:"width,omitempty"`
	Height *int `json:"height,omitempty"`
}

// NormalizedListing is the canonical listing shape. It is built once by a
// normalizer and replaced, never edited, when the upstream record changes.
type NormalizedListing struct {
	SourceListingID *string `json:"sourceListingId"`
	CanonicalURL    string  `json:"canonicalUrl"`
	Title           *string `json:"title"`

	AddressLine1 *string  `json:"addressLine1"`
	Unit         *string  `json:"unit"`
	City         *string  `json:"city"`
	State        *string  `json:"state"`
	PostalCode   *string  `json:"postalCode"`
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`

	PriceMin   *float64 `json:"priceMin"`
	PriceMax   *float64 `json:"priceMax"`
	Bedrooms   *float64 `json:"bedrooms"`
	Bathrooms  *float64 `json:"bathrooms"`
	SquareFeet *int     `json:"squareFeet"`

	PropertyType  *string    `json:"propertyType"`
	AvailableDate *time.Time `json:"availableDate"`
	LeaseTerm     *string    `json:"leaseTerm"`
	Deposit       *float64   `json:"deposit"`

	FeesJSON      json.RawMessage `json:"feesJson,omitempty"`
	AmenitiesJSON json.RawMessage `json:"amenitiesJson,omitempty"`
	Description   *string         `json:"description"`
	Contact       *Contact        `json:"contactJson,omitempty"`

	ImageURLs  []string             `json:"imageUrls"`
	ImageHints map[string]ImageSize `json:"-"`

	RawJSON json.RawMessage `json:"rawJson"`
}

// NaturalKey identifies the listing within its source: the source-local id
// when present, the canonical URL otherwise.
func (l *NormalizedListing) NaturalKey() string {
	if l.SourceListingID != nil && *l.SourceListingID != "" {
		return "id:" + *l.SourceListingID
	}
	return "url:" + l.CanonicalURL
}
