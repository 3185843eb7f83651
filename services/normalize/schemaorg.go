package normalize

import (
	"strings"

	"rental-ingest/models"
)

// Scraped normalizes records produced by the HTML fallback scraper: JSON-LD
// records go through SchemaOrg, DOM records through Generic.
type Scraped struct {
	BaseURL string
}

func (s Scraped) Normalize(raw models.RawListing) (*models.NormalizedListing, error) {
	if from, _ := raw["_extractedFrom"].(string); from == "jsonld" || raw["@type"] != nil {
		return SchemaOrg{BaseURL: s.BaseURL}.Normalize(raw)
	}
	return Generic{BaseURL: s.BaseURL}.Normalize(raw)
}

// SchemaOrg normalizes schema.org Apartment, RealEstateListing, Residence
// and Product objects.
type SchemaOrg struct {
	BaseURL string
}

func (s SchemaOrg) Normalize(raw models.RawListing) (*models.NormalizedListing, error) {
	m := map[string]any(raw)

	canonical, err := canonicalURL(s.BaseURL, lookupString(m, "url", "@id", "mainEntityOfPage"))
	if err != nil {
		return nil, err
	}

	l := &models.NormalizedListing{
		SourceListingID: lookupString(m, "identifier", "sku", "productID", "identifier.value"),
		CanonicalURL:    canonical,
		Title:           textPtr(pick(m, "name", "headline")),
		Description:     textPtr(pick(m, "description")),
		PropertyType:    schemaType(m),
		Bedrooms:        ParseRooms(pick(m, "numberOfBedrooms", "numberOfRooms")),
		Bathrooms:       ParseRooms(pick(m, "numberOfBathroomsTotal", "numberOfFullBathrooms")),
		SquareFeet:      ParseInt(pick(m, "floorSize.value", "floorSize")),
		AvailableDate:   ParseDate(pick(m, "availabilityStarts", "datePosted", "offers.availabilityStarts")),
		Latitude:        validCoordinate(ParseNumber(pick(m, "geo.latitude", "latitude")), 90),
		Longitude:       validCoordinate(ParseNumber(pick(m, "geo.longitude", "longitude")), 180),
		AmenitiesJSON:   rawJSON(lookup(m, "amenityFeature", "amenities")),
		RawJSON:         encodeRaw(raw),
	}

	applyPrice(l, schemaOffers(m))

	switch addr := pick(m, "address").(type) {
	case string:
		applyAddress(l, ParseAddress(addr))
	case map[string]any:
		l.AddressLine1 = lookupString(addr, "streetAddress")
		l.City = lookupString(addr, "addressLocality")
		l.State = lookupString(addr, "addressRegion")
		l.PostalCode = lookupString(addr, "postalCode")
		if l.AddressLine1 != nil {
			parsed := ParseAddress(*l.AddressLine1)
			l.AddressLine1, l.Unit = parsed.Line1, parsed.Unit
		}
	}

	contact := &models.Contact{
		Phone: lookupString(m, "telephone", "phone"),
		Email: lookupString(m, "email"),
		Name:  lookupString(m, "contactName", "seller.name", "provider.name", "offers.seller.name"),
	}
	if !contact.Empty() {
		l.Contact = contact
	}

	images := newImageCollector(canonical, false)
	images.add(pick(m, "image", "photo", "images"))
	l.ImageURLs = images.urls

	return l, nil
}

// schemaOffers reads price from an Offer, an AggregateOffer or a list of offers.
func schemaOffers(m map[string]any) models.PriceRange {
	switch offers := pick(m, "offers").(type) {
	case map[string]any:
		lo := ParseNumber(pick(offers, "lowPrice", "minPrice"))
		hi := ParseNumber(pick(offers, "highPrice", "maxPrice"))
		if lo != nil || hi != nil {
			return makeRange(lo, hi)
		}
		return ParsePriceRange(pick(offers, "price", "priceSpecification.price"))
	case []any:
		var prices []any
		for _, o := range offers {
			if obj := asObject(o); obj != nil {
				if p, ok := lookup(obj, "price", "lowPrice", "highPrice"); ok {
					prices = append(prices, p)
				}
			}
		}
		return ParsePriceRange(prices)
	}
	return ParsePriceRange(pick(m, "price"))
}

func schemaType(m map[string]any) *string {
	switch t := pick(m, "@type", "accommodationCategory").(type) {
	case string:
		return strPtr(t)
	case []any:
		var names []string
		for _, v := range t {
			if s, ok := v.(string); ok {
				names = append(names, s)
			}
		}
		return strPtr(strings.Join(names, ","))
	}
	return nil
}
