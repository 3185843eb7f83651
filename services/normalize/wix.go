package normalize

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"

	"rental-ingest/models"
)

// wixItem is a rental item from a Wix Data collection. Numeric fields stay
// untyped because site owners store them as numbers or as text.
type wixItem struct {
	ID            string         `mapstructure:"_id"`
	Title         string         `mapstructure:"title"`
	Description   any            `mapstructure:"description"`
	Address       any            `mapstructure:"address"`
	Price         any            `mapstructure:"price"`
	Rent          any            `mapstructure:"rent"`
	Bedrooms      any            `mapstructure:"bedrooms"`
	Bathrooms     any            `mapstructure:"bathrooms"`
	SquareFeet    any            `mapstructure:"squareFeet"`
	PropertyType  string         `mapstructure:"propertyType"`
	AvailableDate any            `mapstructure:"availableDate"`
	LeaseTerm     string         `mapstructure:"leaseTerm"`
	Deposit       any            `mapstructure:"deposit"`
	Amenities     any            `mapstructure:"amenities"`
	Fees          any            `mapstructure:"fees"`
	Image         any            `mapstructure:"image"`
	Gallery       any            `mapstructure:"gallery"`
	URL           string         `mapstructure:"url"`
	Rest          map[string]any `mapstructure:",remain"`
}

// Wix normalizes items served by Wix Data collection endpoints. Images arrive
// as wix:image:// media references and the page URL as a "link-*" field.
type Wix struct {
	BaseURL string
}

func (w Wix) Normalize(raw models.RawListing) (*models.NormalizedListing, error) {
	var item wixItem
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &item,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("wix: build decoder: %w", err)
	}
	if err := dec.Decode(map[string]any(raw)); err != nil {
		return nil, fmt.Errorf("wix: decode item: %w", err)
	}

	canonical, err := canonicalURL(w.BaseURL, wixPageLink(item))
	if err != nil {
		return nil, err
	}

	l := &models.NormalizedListing{
		SourceListingID: strPtr(item.ID),
		CanonicalURL:    canonical,
		Title:           strPtr(item.Title),
		PropertyType:    strPtr(item.PropertyType),
		LeaseTerm:       strPtr(item.LeaseTerm),
		Description:     textPtr(item.Description),
		Bedrooms:        ParseRooms(item.Bedrooms),
		Bathrooms:       ParseRooms(item.Bathrooms),
		SquareFeet:      ParseInt(item.SquareFeet),
		AvailableDate:   ParseDate(item.AvailableDate),
		Deposit:         ParseNumber(item.Deposit),
		FeesJSON:        rawJSON(item.Fees, true),
		AmenitiesJSON:   rawJSON(item.Amenities, true),
		Contact:         parseContact(item.Rest),
		RawJSON:         encodeRaw(raw),
	}

	price := item.Price
	if !present(price) {
		price = item.Rent
	}
	applyPrice(l, ParsePriceRange(price))
	w.applyAddress(l, item.Address)

	images := newImageCollector(canonical, true)
	images.add(item.Image)
	images.add(item.Gallery)
	l.ImageURLs = images.urls
	l.ImageHints = images.hints

	return l, nil
}

// wixPageLink returns the item's dynamic page path. Wix names these fields
// "link-<collection>-<field>"; the first one in key order wins.
func wixPageLink(item wixItem) *string {
	if item.URL != "" {
		return strPtr(item.URL)
	}
	var keys []string
	for k := range item.Rest {
		if strings.HasPrefix(k, "link-") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if s, ok := item.Rest[k].(string); ok && strings.TrimSpace(s) != "" {
			return strPtr(s)
		}
	}
	return nil
}

// applyAddress reads a Wix address object ({formatted, location,
// streetAddress{number,name,apt}, city, subdivision, postalCode}) or a plain
// string.
func (w Wix) applyAddress(l *models.NormalizedListing, v any) {
	switch t := v.(type) {
	case string:
		applyAddress(l, ParseAddress(t))
	case map[string]any:
		if street := lookupObject(t, "streetAddress"); street != nil {
			parts := []string{}
			if n := lookupString(street, "number"); n != nil {
				parts = append(parts, *n)
			}
			if n := lookupString(street, "name"); n != nil {
				parts = append(parts, *n)
			}
			l.AddressLine1 = strPtr(strings.Join(parts, " "))
			l.Unit = lookupString(street, "apt")
		}
		l.City = lookupString(t, "city")
		l.State = lookupString(t, "subdivision", "state")
		l.PostalCode = lookupString(t, "postalCode")
		l.Latitude = validCoordinate(ParseNumber(pick(t, "location.latitude", "location.lat")), 90)
		l.Longitude = validCoordinate(ParseNumber(pick(t, "location.longitude", "location.lng")), 180)
		if formatted := lookupString(t, "formatted"); formatted != nil {
			applyAddress(l, ParseAddress(*formatted))
		}
	}
}
