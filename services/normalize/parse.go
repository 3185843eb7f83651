package normalize

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"rental-ingest/models"
)

var (
	// signedNumberRegexp finds the first number in free text, sign included.
	signedNumberRegexp = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
	// priceRegexp captures unsigned amounts so "1200-1500" reads as two values.
	priceRegexp = regexp.MustCompile(`\d+(?:\.\d+)?`)
	// stateZipRegexp matches a trailing "STATE ZIP" token, optionally preceded
	// by the city when no comma separates them.
	stateZipRegexp  = regexp.MustCompile(`^(?:(.*?)\s+)?([A-Za-z]{2})\s+(\d{5}(?:-\d{4})?)$`)
	stateOnlyRegexp = regexp.MustCompile(`^[A-Za-z]{2}$`)
	// unitSuffixRegexp splits "123 Main St Apt 4" into street and unit.
	unitSuffixRegexp = regexp.MustCompile(`(?i)^(.*?)[\s,]+((?:apt|apartment|unit|suite|ste)\.?\s*[\w-]+|#\s*[\w-]+)$`)
	studioRegexp     = regexp.MustCompile(`(?i)\bstudio\b`)
)

// ParseNumber reads a number from numeric or string input. Strings lose their
// thousands separators and any surrounding text ("$1,250/mo" -> 1250).
func ParseNumber(v any) *float64 {
	var f float64
	switch t := v.(type) {
	case nil:
		return nil
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case int32:
		f = float64(t)
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return nil
		}
		f = n
	case string:
		m := signedNumberRegexp.FindString(strings.ReplaceAll(t, ",", ""))
		if m == "" {
			return nil
		}
		n, err := strconv.ParseFloat(m, 64)
		if err != nil {
			return nil
		}
		f = n
	case map[string]any:
		if inner, ok := lookup(t, "value", "amount", "number"); ok {
			return ParseNumber(inner)
		}
		return nil
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// ParseInt is ParseNumber rounded to the nearest integer.
func ParseInt(v any) *int {
	f := ParseNumber(v)
	if f == nil {
		return nil
	}
	n := int(math.Round(*f))
	return &n
}

// ParseRooms reads a bed or bath count; "Studio" counts as zero bedrooms.
func ParseRooms(v any) *float64 {
	if s, ok := v.(string); ok && studioRegexp.MatchString(s) && signedNumberRegexp.FindString(s) == "" {
		zero := 0.0
		return &zero
	}
	f := ParseNumber(v)
	if f == nil || *f < 0 {
		return nil
	}
	return f
}

// ParsePriceRange extracts a price range from a single amount, a textual
// range ("$1,200 - $1,500"), a {min,max} object or a list of amounts.
func ParsePriceRange(v any) models.PriceRange {
	var values []float64

	switch t := v.(type) {
	case nil:
	case string:
		for _, m := range priceRegexp.FindAllString(strings.ReplaceAll(t, ",", ""), 2) {
			if f, err := strconv.ParseFloat(m, 64); err == nil {
				values = append(values, f)
			}
		}
	case map[string]any:
		lo := ParseNumber(pick(t, "min", "low", "from", "minPrice", "priceMin", "lowPrice"))
		hi := ParseNumber(pick(t, "max", "high", "to", "maxPrice", "priceMax", "highPrice"))
		if lo == nil && hi == nil {
			if inner, ok := lookup(t, "value", "amount", "price"); ok {
				return ParsePriceRange(inner)
			}
		}
		return makeRange(lo, hi)
	case []any:
		for _, item := range t {
			if f := ParseNumber(item); f != nil {
				values = append(values, *f)
			}
		}
		if len(values) > 1 {
			lo, hi := values[0], values[0]
			for _, f := range values[1:] {
				lo = math.Min(lo, f)
				hi = math.Max(hi, f)
			}
			values = []float64{lo, hi}
		}
	default:
		if f := ParseNumber(t); f != nil {
			values = append(values, *f)
		}
	}

	switch len(values) {
	case 0:
		return models.PriceRange{}
	case 1:
		return makeRange(&values[0], nil)
	default:
		return makeRange(&values[0], &values[1])
	}
}

// makeRange fills a missing bound from the other and orders the pair.
func makeRange(lo, hi *float64) models.PriceRange {
	if lo != nil && *lo < 0 {
		lo = nil
	}
	if hi != nil && *hi < 0 {
		hi = nil
	}
	switch {
	case lo == nil && hi == nil:
		return models.PriceRange{}
	case lo == nil:
		lo = hi
	case hi == nil:
		hi = lo
	}
	a, b := *lo, *hi
	if a > b {
		a, b = b, a
	}
	return models.PriceRange{Min: &a, Max: &b}
}

func pick(m map[string]any, keys ...string) any {
	v, _ := lookup(m, keys...)
	return v
}

// Address is a street address split into components.
type Address struct {
	Line1      *string
	Unit       *string
	City       *string
	State      *string
	PostalCode *string
}

// ParseAddress splits a free-text address of the form
// "street[, unit], city, STATE ZIP" into its components.
func ParseAddress(s string) Address {
	var parts []string
	for _, p := range strings.Split(s, ",") {
		if p = normaliseText(p); p != "" {
			parts = append(parts, p)
		}
	}
	if n := len(parts); n > 1 {
		last := strings.ToLower(parts[n-1])
		if last == "usa" || last == "us" || last == "united states" {
			parts = parts[:n-1]
		}
	}

	var addr Address
	if len(parts) == 0 {
		return addr
	}

	last := parts[len(parts)-1]
	if m := stateZipRegexp.FindStringSubmatch(last); m != nil && len(parts) > 1 {
		addr.State = strPtr(strings.ToUpper(m[2]))
		addr.PostalCode = strPtr(m[3])
		if m[1] != "" {
			parts[len(parts)-1] = m[1]
		} else {
			parts = parts[:len(parts)-1]
		}
	} else if len(parts) >= 3 && stateOnlyRegexp.MatchString(last) {
		addr.State = strPtr(strings.ToUpper(last))
		parts = parts[:len(parts)-1]
	}

	switch len(parts) {
	case 0:
	case 1:
		addr.Line1 = strPtr(parts[0])
	case 2:
		addr.Line1 = strPtr(parts[0])
		addr.City = strPtr(parts[1])
	default:
		addr.Line1 = strPtr(parts[0])
		addr.Unit = strPtr(strings.Join(parts[1:len(parts)-1], ", "))
		addr.City = strPtr(parts[len(parts)-1])
	}

	if addr.Unit == nil && addr.Line1 != nil {
		if m := unitSuffixRegexp.FindStringSubmatch(*addr.Line1); m != nil && m[1] != "" {
			addr.Line1 = strPtr(m[1])
			addr.Unit = strPtr(m[2])
		}
	}
	return addr
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"Jan 2 2006",
	"2 Jan 2006",
}

// ParseDate reads an availability date from a string, an epoch number
// (seconds or milliseconds) or a {"$date": ...} wrapper.
func ParseDate(v any) *time.Time {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		s := normaliseText(t)
		s = strings.TrimPrefix(strings.TrimPrefix(s, "Available "), "available ")
		for _, layout := range dateLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				ts = ts.UTC()
				return &ts
			}
		}
		return nil
	case map[string]any:
		if inner, ok := lookup(t, "$date", "date", "value"); ok {
			return ParseDate(inner)
		}
		return nil
	default:
		f := ParseNumber(t)
		if f == nil || *f <= 0 {
			return nil
		}
		sec := int64(*f)
		if sec > 1e12 {
			sec /= 1000
		}
		ts := time.Unix(sec, 0).UTC()
		return &ts
	}
}

// normaliseText strips leading/trailing whitespace and collapses internal whitespace.
func normaliseText(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}

// plainText drops markup from rich-text fields.
func plainText(s string) string {
	if !strings.Contains(s, "<") {
		return normaliseText(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return normaliseText(s)
	}
	return normaliseText(doc.Text())
}

func textPtr(v any) *string {
	s := asString(v)
	if s == nil {
		return nil
	}
	return strPtr(plainText(*s))
}
