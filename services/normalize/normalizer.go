// Package normalize maps raw upstream listing records onto the canonical
// listing schema. Every normalizer is a pure function of its input.
package normalize

import (
	"encoding/json"
	"errors"
	"strings"

	"rental-ingest/models"
	"rental-ingest/utils"
)

// KindSchemaOrg selects the normalizer for records produced by the HTML
// fallback scraper.
const KindSchemaOrg = "schemaorg"

// ErrMissingURL is returned when no usable listing URL can be derived.
var ErrMissingURL = errors.New("normalize: listing has no usable url")

// Normalizer maps one raw record shape to a NormalizedListing.
type Normalizer interface {
	Normalize(raw models.RawListing) (*models.NormalizedListing, error)
}

// ForKind returns the normalizer for a source kind. baseURL resolves
// relative links and image paths; unknown kinds fall back to Generic.
func ForKind(kind, baseURL string) Normalizer {
	switch kind {
	case models.KindWix:
		return Wix{BaseURL: baseURL}
	case KindSchemaOrg:
		return Scraped{BaseURL: baseURL}
	default:
		return Generic{BaseURL: baseURL}
	}
}

// canonicalURL resolves ref against base and canonicalizes it, failing when
// the result is not an absolute https URL.
func canonicalURL(base string, ref *string) (string, error) {
	if ref == nil {
		return "", ErrMissingURL
	}
	u := utils.Canonicalize(utils.ResolveURL(base, *ref))
	if !strings.HasPrefix(u, "https://") {
		return "", ErrMissingURL
	}
	return u, nil
}

func encodeRaw(raw models.RawListing) json.RawMessage {
	b, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	return b
}

func applyAddress(l *models.NormalizedListing, a Address) {
	if l.AddressLine1 == nil {
		l.AddressLine1 = a.Line1
	}
	if l.Unit == nil {
		l.Unit = a.Unit
	}
	if l.City == nil {
		l.City = a.City
	}
	if l.State == nil {
		l.State = a.State
	}
	if l.PostalCode == nil {
		l.PostalCode = a.PostalCode
	}
}

func applyPrice(l *models.NormalizedListing, p models.PriceRange) {
	l.PriceMin, l.PriceMax = p.Min, p.Max
}

// validCoordinate drops values outside the range of latitude or longitude.
func validCoordinate(f *float64, limit float64) *float64 {
	if f == nil || *f < -limit || *f > limit {
		return nil
	}
	return f
}
