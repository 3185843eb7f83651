package normalize

import (
	"rental-ingest/models"
)

// Ordered fallback key lists per logical field for heterogeneous JSON APIs.
var (
	idKeys          = []string{"id", "listingId", "listing_id", "propertyId", "property_id", "unitId", "externalId", "uuid", "_id"}
	urlKeys         = []string{"url", "listingUrl", "listing_url", "detailUrl", "detailsUrl", "detail_url", "link", "href", "permalink", "canonicalUrl", "webUrl"}
	titleKeys       = []string{"title", "name", "headline", "propertyName", "listingName"}
	priceMinKeys    = []string{"priceMin", "minPrice", "rentMin", "minRent", "price.min", "rent.min"}
	priceMaxKeys    = []string{"priceMax", "maxPrice", "rentMax", "maxRent", "price.max", "rent.max"}
	priceKeys       = []string{"price", "rent", "rentRange", "priceRange", "monthlyRent", "listPrice", "askingPrice", "formattedPrice", "priceText"}
	addressKeys     = []string{"address", "fullAddress", "formattedAddress", "displayAddress", "location.address", "streetAddress"}
	streetKeys      = []string{"street", "streetAddress", "street_address", "line1", "address1", "addressLine1"}
	unitKeys        = []string{"unit", "apt", "unitNumber", "line2", "address2", "addressLine2"}
	cityKeys        = []string{"city", "locality", "addressLocality", "town"}
	stateKeys       = []string{"state", "stateCode", "region", "addressRegion", "province"}
	zipKeys         = []string{"zip", "zipCode", "zipcode", "postalCode", "postal_code", "postcode"}
	latKeys         = []string{"lat", "latitude", "geo.lat", "geo.latitude", "location.lat", "location.latitude", "coordinates.lat", "coordinates.latitude", "position.lat"}
	lngKeys         = []string{"lng", "lon", "long", "longitude", "geo.lng", "geo.lon", "geo.longitude", "location.lng", "location.lon", "location.longitude", "coordinates.lng", "coordinates.lon", "coordinates.longitude", "position.lng"}
	bedKeys         = []string{"beds", "bedrooms", "bedroomCount", "numBedrooms", "bed", "bd"}
	bathKeys        = []string{"baths", "bathrooms", "bathroomCount", "numBathrooms", "bath", "ba"}
	sqftKeys        = []string{"sqft", "squareFeet", "square_feet", "squareFootage", "livingArea", "area", "size", "floorSize"}
	typeKeys        = []string{"propertyType", "property_type", "homeType", "buildingType", "type", "category"}
	availableKeys   = []string{"availableDate", "availabilityDate", "availableFrom", "available_date", "dateAvailable", "moveInDate", "available"}
	leaseKeys       = []string{"leaseTerm", "leaseLength", "lease_term", "leaseDuration", "minLease", "minimumLease"}
	depositKeys     = []string{"deposit", "securityDeposit", "security_deposit", "depositAmount"}
	feeKeys         = []string{"fees", "feeSchedule", "fee", "petFees", "additionalFees"}
	amenityKeys     = []string{"amenities", "features", "amenityList", "highlights", "amenityFeature"}
	descriptionKeys = []string{"description", "summary", "remarks", "details", "body", "overview"}
	imageKeys       = []string{"images", "photos", "imageUrls", "image_urls", "photoUrls", "media", "gallery", "pictures", "image", "photo", "imageUrl", "thumbnail", "thumbnailUrl"}
)

// Generic normalizes records from arbitrary JSON APIs by probing ordered
// lists of common field names.
type Generic struct {
	BaseURL string
}

func (g Generic) Normalize(raw models.RawListing) (*models.NormalizedListing, error) {
	m := map[string]any(raw)

	canonical, err := canonicalURL(g.BaseURL, lookupString(m, urlKeys...))
	if err != nil {
		return nil, err
	}

	l := &models.NormalizedListing{
		SourceListingID: lookupString(m, idKeys...),
		CanonicalURL:    canonical,
		Title:           textPtr(pick(m, titleKeys...)),
		PropertyType:    lookupString(m, typeKeys...),
		LeaseTerm:       lookupString(m, leaseKeys...),
		Description:     textPtr(pick(m, descriptionKeys...)),
		RawJSON:         encodeRaw(raw),
	}

	applyPrice(l, priceFrom(m))
	applyAddress(l, addressFrom(m))

	l.Latitude = validCoordinate(ParseNumber(pick(m, latKeys...)), 90)
	l.Longitude = validCoordinate(ParseNumber(pick(m, lngKeys...)), 180)
	l.Bedrooms = ParseRooms(pick(m, bedKeys...))
	l.Bathrooms = ParseRooms(pick(m, bathKeys...))
	l.SquareFeet = ParseInt(pick(m, sqftKeys...))
	l.AvailableDate = ParseDate(pick(m, availableKeys...))
	l.Deposit = ParseNumber(pick(m, depositKeys...))
	l.FeesJSON = rawJSON(lookup(m, feeKeys...))
	l.AmenitiesJSON = rawJSON(lookup(m, amenityKeys...))
	l.Contact = parseContact(m)

	images := newImageCollector(canonical, false)
	for _, key := range imageKeys {
		if v, ok := lookup(m, key); ok {
			images.add(v)
		}
	}
	l.ImageURLs = images.urls
	l.ImageHints = images.hints

	return l, nil
}

// priceFrom prefers explicit min/max fields over a single price value.
func priceFrom(m map[string]any) models.PriceRange {
	lo := ParseNumber(pick(m, priceMinKeys...))
	hi := ParseNumber(pick(m, priceMaxKeys...))
	if lo != nil || hi != nil {
		return makeRange(lo, hi)
	}
	return ParsePriceRange(pick(m, priceKeys...))
}

// addressFrom reads structured address fields, top-level or inside an
// address object, and parses a free-text address for whatever is missing.
func addressFrom(m map[string]any) Address {
	var a Address
	fill := func(obj map[string]any) {
		if a.Line1 == nil {
			a.Line1 = lookupString(obj, streetKeys...)
		}
		if a.Unit == nil {
			a.Unit = lookupString(obj, unitKeys...)
		}
		if a.City == nil {
			a.City = lookupString(obj, cityKeys...)
		}
		if a.State == nil {
			a.State = lookupString(obj, stateKeys...)
		}
		if a.PostalCode == nil {
			a.PostalCode = lookupString(obj, zipKeys...)
		}
	}

	if obj := lookupObject(m, "address", "location", "propertyAddress"); obj != nil {
		fill(obj)
	}
	fill(m)

	if v, ok := lookup(m, addressKeys...); ok {
		if s, isStr := v.(string); isStr {
			parsed := ParseAddress(s)
			if a.Line1 != nil && *a.Line1 == normaliseText(s) {
				a.Line1 = nil
			}
			if a.Line1 == nil {
				a.Line1 = parsed.Line1
			}
			if a.Unit == nil {
				a.Unit = parsed.Unit
			}
			if a.City == nil {
				a.City = parsed.City
			}
			if a.State == nil {
				a.State = parsed.State
			}
			if a.PostalCode == nil {
				a.PostalCode = parsed.PostalCode
			}
		}
	}
	return a
}
