package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"rental-ingest/models"
)

// template is a replayable copy of a discovered request. Pagination params
// are written into its query string, or into its JSON body when the key
// lives there.
type template struct {
	method   string
	url      url.URL
	headers  map[string]string
	body     string
	jsonBody bool
}

func newTemplate(ep *models.DiscoveredEndpoint) (*template, error) {
	u, err := url.Parse(ep.URL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("fetcher: invalid endpoint url %q", ep.URL)
	}
	method := strings.ToUpper(ep.Method)
	if method == "" {
		method = http.MethodGet
	}
	body := strings.TrimSpace(ep.Body)
	return &template{
		method:   method,
		url:      *u,
		headers:  ep.Headers,
		body:     body,
		jsonBody: body != "" && gjson.Valid(body) && gjson.Parse(body).IsObject(),
	}, nil
}

func (t *template) clone() *template {
	c := *t
	return &c
}

func (t *template) inQuery(param string) bool {
	return t.url.Query().Has(param)
}

func (t *template) inBody(param string) bool {
	return t.jsonBody && gjson.Get(t.body, param).Exists()
}

// has reports whether param is present in the query or the JSON body.
func (t *template) has(param string) bool {
	return t.inQuery(param) || t.inBody(param)
}

// get returns the current value of param, query first.
func (t *template) get(param string) (string, bool) {
	if q := t.url.Query(); q.Has(param) {
		return q.Get(param), true
	}
	if t.inBody(param) {
		return gjson.Get(t.body, param).String(), true
	}
	return "", false
}

// set writes param. A key already in the query stays there. Otherwise a JSON
// body receives it when it already holds the key or the request is not a GET.
func (t *template) set(param string, value any) error {
	if !t.inQuery(param) && t.jsonBody && (t.inBody(param) || t.method != http.MethodGet) {
		body, err := sjson.Set(t.body, param, value)
		if err != nil {
			return fmt.Errorf("fetcher: set body param %s: %w", param, err)
		}
		t.body = body
		return nil
	}

	q := t.url.Query()
	q.Set(param, queryValue(value))
	t.url.RawQuery = q.Encode()
	return nil
}

// del removes param from wherever it is present.
func (t *template) del(param string) {
	if q := t.url.Query(); q.Has(param) {
		q.Del(param)
		t.url.RawQuery = q.Encode()
	}
	if t.inBody(param) {
		if body, err := sjson.Delete(t.body, param); err == nil {
			t.body = body
		}
	}
}

// follow points the template at a next-page URL returned by the upstream.
func (t *template) follow(next string) error {
	ref, err := url.Parse(next)
	if err != nil {
		return fmt.Errorf("fetcher: invalid next url %q: %w", next, err)
	}
	t.url = *t.url.ResolveReference(ref)
	return nil
}

func (t *template) request(ctx context.Context, userAgent string) (*http.Request, error) {
	var body *strings.Reader
	if t.body != "" && t.method != http.MethodGet && t.method != http.MethodHead {
		body = strings.NewReader(t.body)
	}

	u := t.url
	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, t.method, u.String(), body)
	} else {
		req, err = http.NewRequestWithContext(ctx, t.method, u.String(), http.NoBody)
	}
	if err != nil {
		return nil, fmt.Errorf("fetcher: build request: %w", err)
	}

	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json, text/plain, */*")
	}
	if body != nil && req.Header.Get("Content-Type") == "" && t.jsonBody {
		req.Header.Set("Content-Type", "application/json")
	}
	if req.Header.Get("User-Agent") == "" && userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	return req, nil
}

func queryValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}
