package discovery

import (
	"encoding/json"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"rental-ingest/models"
	"rental-ingest/scraper/fetcher"
)

const (
	minListingScore = 2
	maxSearchDepth  = 5
)

// listingSignals groups alternative field names for one listing attribute.
// A record scores one point per group it carries.
var listingSignals = [][]string{
	{"lat", "latitude"},
	{"lng", "lon", "long", "longitude"},
	{"address", "streetaddress", "address1", "addressline1", "fulladdress", "street", "location"},
	{"price", "rent", "minrent", "maxrent", "rentrange", "monthlyrent", "pricerange", "listprice"},
	{"beds", "bedrooms", "bedroom", "bedroomcount", "numbedrooms", "bed"},
	{"baths", "bathrooms", "bathroom", "bathroomcount", "numbathrooms", "bath"},
	{"sqft", "squarefeet", "squarefootage", "area"},
}

var containerKeys = []string{"listings", "properties", "results", "items", "data", "records", "units", "rentals", "apartments"}

func fieldKey(k string) string {
	return strings.ToLower(strings.NewReplacer("_", "", "-", "").Replace(k))
}

// ListingScore counts the listing attributes present on a record.
func ListingScore(record map[string]any) int {
	keys := make(map[string]bool, len(record))
	for k := range record {
		keys[fieldKey(k)] = true
	}
	score := 0
	for _, group := range listingSignals {
		for _, name := range group {
			if keys[name] {
				score++
				break
			}
		}
	}
	return score
}

// LooksLikeListing reports whether v is an object carrying at least two
// listing attributes.
func LooksLikeListing(v any) bool {
	obj, ok := v.(map[string]any)
	return ok && ListingScore(obj) >= minListingScore
}

// listingArray reports whether v is a non-empty array whose first element
// looks like a listing.
func listingArray(v any) ([]any, bool) {
	arr, ok := v.([]any)
	if !ok || len(arr) == 0 || !LooksLikeListing(arr[0]) {
		return nil, false
	}
	return arr, true
}

// FindListingsArray locates the listings in a decoded JSON body. A root array
// is "$". Otherwise container keys are searched first, then every other
// nested object, down to a depth of five. The result uses "$.a.b" syntax.
func FindListingsArray(body any) (path string, count int, ok bool) {
	if arr, ok := listingArray(body); ok {
		return "$", len(arr), true
	}
	obj, isObj := body.(map[string]any)
	if !isObj {
		return "", 0, false
	}
	keys, count, ok := searchObject(obj, nil, 1)
	if !ok {
		return "", 0, false
	}
	return fetcher.ListingsPath(keys), count, true
}

func searchObject(obj map[string]any, path []string, depth int) ([]string, int, bool) {
	if depth > maxSearchDepth {
		return nil, 0, false
	}

	names := make([]string, 0, len(obj))
	for k := range obj {
		names = append(names, k)
	}
	sort.Strings(names)

	isContainer := func(k string) bool {
		lk := strings.ToLower(k)
		for _, c := range containerKeys {
			if lk == c {
				return true
			}
		}
		return false
	}
	child := func(k string) []string {
		return append(append([]string(nil), path...), k)
	}

	// container keys holding a listing array
	for _, c := range containerKeys {
		for _, k := range names {
			if strings.ToLower(k) != c {
				continue
			}
			if arr, ok := listingArray(obj[k]); ok {
				return child(k), len(arr), true
			}
		}
	}
	// container keys holding an object, then any other object
	for _, pass := range []bool{true, false} {
		for _, k := range names {
			if isContainer(k) != pass {
				continue
			}
			if nested, ok := obj[k].(map[string]any); ok {
				if p, n, ok := searchObject(nested, child(k), depth+1); ok {
					return p, n, true
				}
			}
		}
	}
	return nil, 0, false
}

var paginationNames = []struct {
	kind  models.PaginationType
	names map[string]bool
}{
	{models.PaginationPage, set("page", "pagenum", "pagenumber", "pageno", "pageindex", "currentpage", "pg", "p")},
	{models.PaginationOffset, set("offset", "start", "skip", "from", "startindex", "startrow")},
	{models.PaginationCursor, set("cursor", "after", "nextcursor", "pagetoken", "nextpagetoken", "continuationtoken", "endcursor", "scrollid")},
}

func set(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

// InferPagination picks the pagination tag of a captured request from its
// query names and JSON body keys, in the order page, offset, cursor, bounds.
// param is the query key or body path that matched.
func InferPagination(rawURL, body string) (kind models.PaginationType, param string) {
	candidates := requestParams(rawURL, body)

	for _, group := range paginationNames {
		for _, name := range candidates {
			if group.names[fieldKey(lastSegment(name))] {
				return group.kind, name
			}
		}
	}
	for _, name := range candidates {
		if fetcher.IsBoundsParam(name) {
			return models.PaginationBounds, name
		}
	}
	return models.PaginationNone, ""
}

// requestParams lists query keys (sorted) followed by JSON body paths for the
// top level and one nested level.
func requestParams(rawURL, body string) []string {
	var names []string
	if u, err := url.Parse(rawURL); err == nil {
		for k := range u.Query() {
			names = append(names, k)
		}
		sort.Strings(names)
	}

	body = strings.TrimSpace(body)
	if body == "" || !gjson.Valid(body) {
		return names
	}
	gjson.Parse(body).ForEach(func(k, v gjson.Result) bool {
		top := gjson.Escape(k.String())
		names = append(names, top)
		if v.IsObject() {
			v.ForEach(func(k2, _ gjson.Result) bool {
				names = append(names, top+"."+gjson.Escape(k2.String()))
				return true
			})
		}
		return true
	})
	return names
}

func lastSegment(path string) string {
	if i := strings.LastIndex(path, "."); i >= 0 && (i == 0 || path[i-1] != '\\') {
		return path[i+1:]
	}
	return path
}

var droppedHeaders = set(
	"cookie", "host", "content-length", "connection", "keep-alive", "te", "trailer",
	"transfer-encoding", "upgrade", "accept-encoding", "proxy-authorization", "proxy-connection",
	"if-none-match", "if-modified-since",
)

// FilterHeaders keeps the request headers worth replaying. HTTP/2 pseudo
// headers, sec-* browser hints, cookies and transport headers are dropped.
func FilterHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		lk := strings.ToLower(k)
		if strings.HasPrefix(lk, ":") || strings.HasPrefix(lk, "sec-") || droppedHeaders[lk] {
			continue
		}
		out[k] = v
	}
	return out
}

// Candidate is one captured JSON response that contains listings.
type Candidate struct {
	URL          string
	Method       string
	Headers      map[string]string
	Body         string
	ListingsPath string
	Count        int
}

// Analyze decodes a captured response and reports the listings it holds.
func Analyze(rawURL, method string, headers map[string]string, requestBody string, responseBody []byte) (Candidate, bool) {
	var decoded any
	if err := json.Unmarshal(fetcher.TrimJSONPrefix(responseBody), &decoded); err != nil {
		return Candidate{}, false
	}
	path, count, ok := FindListingsArray(decoded)
	if !ok {
		return Candidate{}, false
	}
	return Candidate{
		URL:          rawURL,
		Method:       strings.ToUpper(method),
		Headers:      FilterHeaders(headers),
		Body:         requestBody,
		ListingsPath: path,
		Count:        count,
	}, true
}

// BuildEndpoints keeps the candidate with the most listings per (pathname,
// method) and infers the pagination of each survivor. Output order is the
// order in which each group was first captured.
func BuildEndpoints(cands []Candidate, now time.Time) []models.DiscoveredEndpoint {
	type group struct {
		best  Candidate
		order int
	}
	groups := map[string]*group{}
	for i, c := range cands {
		key := c.Method + " " + pathname(c.URL)
		g, ok := groups[key]
		if !ok {
			groups[key] = &group{best: c, order: i}
			continue
		}
		if c.Count > g.best.Count {
			g.best = c
		}
	}

	ordered := make([]*group, 0, len(groups))
	for _, g := range groups {
		ordered = append(ordered, g)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].order < ordered[j].order })

	endpoints := make([]models.DiscoveredEndpoint, 0, len(ordered))
	for _, g := range ordered {
		c := g.best
		kind, param := InferPagination(c.URL, c.Body)
		ep := models.DiscoveredEndpoint{
			URL:             c.URL,
			Method:          c.Method,
			Headers:         c.Headers,
			Body:            c.Body,
			PaginationType:  kind,
			PaginationParam: param,
			ListingsPath:    c.ListingsPath,
			SampleCount:     c.Count,
			DiscoveredAt:    now,
		}
		if kind == models.PaginationBounds {
			ep.Bounds = fetcher.DetectBounds(c.URL, c.Method, c.Body)
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints
}

func pathname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.EscapedPath()
}
