package fetcher

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"rental-ingest/models"
)

var xssiPrefixes = [][]byte{[]byte(")]}'"), []byte("while(1);"), []byte("for(;;);")}

// TrimJSONPrefix drops anti-hijacking prefixes some APIs put before JSON.
func TrimJSONPrefix(body []byte) []byte {
	body = bytes.TrimSpace(body)
	for _, p := range xssiPrefixes {
		if bytes.HasPrefix(body, p) {
			return bytes.TrimSpace(body[len(p):])
		}
	}
	return body
}

// GJSONPath converts a listings path ("$" or "$.a.b") to gjson syntax.
func GJSONPath(listingsPath string) string {
	p := strings.TrimSpace(listingsPath)
	switch {
	case p == "" || p == "$":
		return "@this"
	case strings.HasPrefix(p, "$."):
		return p[2:]
	default:
		return p
	}
}

// ListingsPath renders gjson-escaped keys as a listings path.
func ListingsPath(keys []string) string {
	if len(keys) == 0 {
		return "$"
	}
	escaped := make([]string, len(keys))
	for i, k := range keys {
		escaped[i] = gjson.Escape(k)
	}
	return "$." + strings.Join(escaped, ".")
}

// extractListings reads the object elements of the array at listingsPath.
// A path that resolves to nothing or to a non-array yields no listings.
func extractListings(body []byte, listingsPath string) ([]models.RawListing, error) {
	body = TrimJSONPrefix(body)
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("fetcher: response is not valid JSON")
	}

	res := gjson.GetBytes(body, GJSONPath(listingsPath))
	if !res.IsArray() {
		return nil, nil
	}

	var out []models.RawListing
	for _, el := range res.Array() {
		if !el.IsObject() {
			continue
		}
		var rec models.RawListing
		if err := json.Unmarshal([]byte(el.Raw), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

var (
	cursorKeys       = []string{"nextCursor", "cursor", "next", "nextPage", "after", "endCursor"}
	cursorContainers = []string{"", "pagination.", "meta.", "pageInfo."}
)

// nextCursor probes the known cursor keys at the top level, then inside the
// pagination and meta objects. Booleans, nulls and objects are not cursors.
func nextCursor(body []byte) string {
	body = TrimJSONPrefix(body)
	for _, prefix := range cursorContainers {
		for _, key := range cursorKeys {
			r := gjson.GetBytes(body, prefix+key)
			switch r.Type {
			case gjson.String:
				if r.Str != "" {
					return r.Str
				}
			case gjson.Number:
				return r.Raw
			}
		}
	}
	return ""
}

var idKeys = []string{"id", "_id", "listingId", "listing_id", "propertyId", "property_id", "uid", "key"}

// identity is the dedup key of a raw record: its own id when it has one,
// otherwise a hash of its canonical JSON encoding.
func identity(rec models.RawListing) string {
	for _, k := range idKeys {
		switch v := rec[k].(type) {
		case string:
			if v != "" {
				return "id:" + v
			}
		case float64:
			return fmt.Sprintf("id:%v", v)
		}
	}
	// map keys are marshalled in sorted order, which makes this canonical
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Sprintf("ptr:%p", rec)
	}
	sum := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(sum[:])
}
