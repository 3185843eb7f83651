package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rental-ingest/models"
	"rental-ingest/utils"
)

func newTestFetcher(cfg Config) *Fetcher {
	return New(cfg, http.DefaultClient, utils.NewHostLimiter(0),
		utils.RetryPolicy{IsRetryable: utils.IsRetryableHTTP}, utils.NewNopLogger())
}

// recorder collects values seen by a test server handler.
type recorder[T any] struct {
	mu   sync.Mutex
	vals []T
}

func (r *recorder[T]) add(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vals = append(r.vals, v)
}

func (r *recorder[T]) all() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.vals...)
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func results(items ...map[string]any) map[string]any {
	list := make([]any, len(items))
	for i, it := range items {
		list[i] = it
	}
	return map[string]any{"data": map[string]any{"results": list}}
}

// endlessServer answers every request with one listing derived from the
// request, so naive pagination would never stop.
func endlessServer(t *testing.T, hits *int64, key func(r *http.Request) string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(hits, 1)
		writeJSON(t, w, map[string]any{
			"data":       map[string]any{"results": []any{map[string]any{"id": key(r), "price": "$1,000"}}},
			"pagination": map[string]any{"nextCursor": fmt.Sprintf("c%d", n)},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPaginationTerminatesAtHardCaps(t *testing.T) {
	tests := []struct {
		name       string
		pagination models.PaginationType
		param      string
		wantHits   int64
	}{
		{"page", models.PaginationPage, "page", DefaultMaxPages},
		{"offset", models.PaginationOffset, "offset", DefaultMaxOffsetIterations},
		{"cursor", models.PaginationCursor, "cursor", DefaultMaxCursorIterations},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits int64
			srv := endlessServer(t, &hits, func(r *http.Request) string { return r.URL.RawQuery })
			f := newTestFetcher(Config{})

			listings, err := f.Fetch(context.Background(), models.DiscoveredEndpoint{
				URL:             srv.URL + "/api/search",
				Method:          http.MethodGet,
				PaginationType:  tt.pagination,
				PaginationParam: tt.param,
				ListingsPath:    "$.data.results",
			}, models.SourceSettings{}, 0)

			require.NoError(t, err)
			assert.Equal(t, tt.wantHits, atomic.LoadInt64(&hits))
			assert.Len(t, listings, int(tt.wantHits))
		})
	}
}

func TestSourceSettingsOverrideCaps(t *testing.T) {
	var hits int64
	srv := endlessServer(t, &hits, func(r *http.Request) string { return r.URL.RawQuery })
	f := newTestFetcher(Config{MaxPages: 50})

	_, err := f.Fetch(context.Background(), models.DiscoveredEndpoint{
		URL:            srv.URL + "/api/search",
		PaginationType: models.PaginationPage,
		ListingsPath:   "$.data.results",
	}, models.SourceSettings{MaxPages: 7}, 0)

	require.NoError(t, err)
	assert.Equal(t, int64(7), hits)
}

func TestPageStrategyStopsOnEmptyPage(t *testing.T) {
	var pages recorder[string]
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("pg")
		pages.add(page)
		if page == "3" {
			writeJSON(t, w, results())
			return
		}
		writeJSON(t, w, results(map[string]any{"id": "a" + page}, map[string]any{"id": "b" + page}))
	}))
	defer srv.Close()

	listings, err := newTestFetcher(Config{}).Fetch(context.Background(), models.DiscoveredEndpoint{
		URL:             srv.URL + "/search?pg=4&q=loft",
		PaginationType:  models.PaginationPage,
		PaginationParam: "pg",
		ListingsPath:    "$.data.results",
	}, models.SourceSettings{}, 0)

	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, pages.all())
	assert.Len(t, listings, 4)
}

func TestOffsetStrategySetsLimitParam(t *testing.T) {
	var seen recorder[string]
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		seen.add(q.Get("start") + "/" + q.Get("per_page"))
		if q.Get("start") == "100" {
			writeJSON(t, w, []any{})
			return
		}
		writeJSON(t, w, []any{map[string]any{"id": q.Get("start")}})
	}))
	defer srv.Close()

	listings, err := newTestFetcher(Config{}).Fetch(context.Background(), models.DiscoveredEndpoint{
		URL:             srv.URL + "/units?start=20&per_page=20",
		PaginationType:  models.PaginationOffset,
		PaginationParam: "start",
		ListingsPath:    "$",
	}, models.SourceSettings{}, 0)

	require.NoError(t, err)
	assert.Equal(t, []string{"0/50", "50/50", "100/50"}, seen.all())
	assert.Len(t, listings, 2)
}

func TestCursorStrategyStopsOnRepeatedCursor(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		writeJSON(t, w, map[string]any{
			"items": []any{map[string]any{"id": r.URL.Query().Get("after")}},
			"meta":  map[string]any{"after": "same"},
		})
	}))
	defer srv.Close()

	listings, err := newTestFetcher(Config{}).Fetch(context.Background(), models.DiscoveredEndpoint{
		URL:             srv.URL + "/feed?after=stale",
		PaginationType:  models.PaginationCursor,
		PaginationParam: "after",
		ListingsPath:    "$.items",
	}, models.SourceSettings{}, 0)

	require.NoError(t, err)
	assert.Equal(t, int64(2), hits)
	require.Len(t, listings, 2)
	assert.Equal(t, "", listings[0]["id"], "first request drops the captured cursor")
	assert.Equal(t, "same", listings[1]["id"])
}

func TestCursorStrategyFollowsNextLinks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/feed":
			writeJSON(t, w, map[string]any{"items": []any{map[string]any{"id": "1"}}, "next": "/feed/2"})
		case "/feed/2":
			writeJSON(t, w, map[string]any{"items": []any{map[string]any{"id": "2"}}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	listings, err := newTestFetcher(Config{}).Fetch(context.Background(), models.DiscoveredEndpoint{
		URL:            srv.URL + "/feed",
		PaginationType: models.PaginationCursor,
		ListingsPath:   "$.items",
	}, models.SourceSettings{}, 0)

	require.NoError(t, err)
	require.Len(t, listings, 2)
	assert.Equal(t, "2", listings[1]["id"])
}

func TestBoundsDeduplicatesAcrossTiles(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		tile := r.URL.Query().Get("bbox")
		writeJSON(t, w, map[string]any{"listings": []any{
			map[string]any{"id": "shared", "tile": tile},
			map[string]any{"id": "own-" + tile},
			map[string]any{"title": "no id", "price": 900},
		}})
	}))
	defer srv.Close()

	listings, err := newTestFetcher(Config{}).Fetch(context.Background(), models.DiscoveredEndpoint{
		URL:            srv.URL + "/map?bbox=-74.1,40.6,-73.9,40.8",
		PaginationType: models.PaginationBounds,
		ListingsPath:   "$.listings",
		Bounds:         &models.BoundingBox{North: 40.8, South: 40.6, East: -73.9, West: -74.1},
	}, models.SourceSettings{GridSize: 2}, 0)

	require.NoError(t, err)
	assert.Equal(t, int64(4), hits)

	ids := map[any]int{}
	for _, l := range listings {
		ids[l["id"]]++
	}
	assert.Equal(t, 1, ids["shared"], "listing returned by every tile is kept once")
	assert.Equal(t, 1, ids[nil], "records without id dedupe by content")
	assert.Len(t, listings, 1+4+1)
}

func TestBoundsWritesEdgesIntoJSONBody(t *testing.T) {
	var norths recorder[float64]
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Map struct {
				NeLat float64 `json:"neLat"`
			} `json:"map"`
		}
		data, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(data, &body))
		norths.add(body.Map.NeLat)
		writeJSON(t, w, map[string]any{"listings": []any{}})
	}))
	defer srv.Close()

	_, err := newTestFetcher(Config{}).Fetch(context.Background(), models.DiscoveredEndpoint{
		URL:            srv.URL + "/search",
		Method:         http.MethodPost,
		Body:           `{"map":{"neLat":1,"swLat":0,"neLng":1,"swLng":0},"q":"x"}`,
		PaginationType: models.PaginationBounds,
		ListingsPath:   "$.listings",
	}, models.SourceSettings{GridSize: 2, Bounds: &models.BoundingBox{North: 2, South: 0, East: 2, West: 0}}, 0)

	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1, 2, 2}, norths.all())
}

func TestPagesThroughJSONBody(t *testing.T) {
	var pages recorder[int]
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Variables struct {
				Page int `json:"page"`
			} `json:"variables"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "abc", r.Header.Get("X-Api-Key"))
		pages.add(body.Variables.Page)
		if body.Variables.Page > 2 {
			writeJSON(t, w, results())
			return
		}
		writeJSON(t, w, results(map[string]any{"id": strconv.Itoa(body.Variables.Page)}))
	}))
	defer srv.Close()

	listings, err := newTestFetcher(Config{}).Fetch(context.Background(), models.DiscoveredEndpoint{
		URL:             srv.URL + "/graphql",
		Method:          http.MethodPost,
		Headers:         map[string]string{"X-Api-Key": "abc"},
		Body:            `{"query":"q","variables":{"page":9}}`,
		PaginationType:  models.PaginationPage,
		PaginationParam: "variables.page",
		ListingsPath:    "$.data.results",
	}, models.SourceSettings{}, 0)

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, pages.all())
	assert.Len(t, listings, 2)
}

func TestLimitTruncatesAndStopsEarly(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		p := r.URL.Query().Get("page")
		writeJSON(t, w, results(map[string]any{"id": p + "a"}, map[string]any{"id": p + "b"}, map[string]any{"id": p + "c"}))
	}))
	defer srv.Close()

	listings, err := newTestFetcher(Config{}).Fetch(context.Background(), models.DiscoveredEndpoint{
		URL:            srv.URL + "/s",
		PaginationType: models.PaginationPage,
		ListingsPath:   "$.data.results",
	}, models.SourceSettings{}, 5)

	require.NoError(t, err)
	assert.Len(t, listings, 5)
	assert.Equal(t, int64(2), hits)
}

func TestFailureAfterFirstPageIsIncomplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "3" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		writeJSON(t, w, results(map[string]any{"id": r.URL.Query().Get("page")}))
	}))
	defer srv.Close()

	ep := models.DiscoveredEndpoint{
		URL:            srv.URL + "/s",
		PaginationType: models.PaginationPage,
		ListingsPath:   "$.data.results",
	}
	listings, err := newTestFetcher(Config{}).Fetch(context.Background(), ep, models.SourceSettings{}, 0)
	assert.ErrorIs(t, err, ErrIncomplete)
	assert.Len(t, listings, 2)

	var se *utils.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.Code)
}

func TestFirstPageFailureIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	listings, err := newTestFetcher(Config{}).Fetch(context.Background(), models.DiscoveredEndpoint{
		URL:          srv.URL + "/s",
		ListingsPath: "$",
	}, models.SourceSettings{}, 0)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrIncomplete)
	assert.Empty(t, listings)
}

func TestUnsupportedPagination(t *testing.T) {
	_, err := newTestFetcher(Config{}).Fetch(context.Background(), models.DiscoveredEndpoint{
		URL:            "https://api.acme.test/s",
		PaginationType: "scroll",
	}, models.SourceSettings{}, 0)
	assert.ErrorIs(t, err, ErrUnsupportedPagination)
}

func TestExtractListingsHandlesPrefixesAndShapes(t *testing.T) {
	body := []byte(`)]}'
{"data":{"results":[{"id":1},"not an object",{"id":2}]}}`)
	listings, err := extractListings(body, "$.data.results")
	require.NoError(t, err)
	assert.Len(t, listings, 2)

	listings, err = extractListings([]byte(`{"data":{}}`), "$.data.results")
	require.NoError(t, err)
	assert.Empty(t, listings)

	_, err = extractListings([]byte(`<html>`), "$")
	assert.Error(t, err)
}

func TestNextCursor(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"nextCursor":"abc"}`, "abc"},
		{`{"pagination":{"endCursor":"zz"}}`, "zz"},
		{`{"meta":{"nextPage":3}}`, "3"},
		{`{"next":null,"meta":{"cursor":""}}`, ""},
		{`{"next":true}`, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, nextCursor([]byte(tt.body)), tt.body)
	}
}

func TestDetectBounds(t *testing.T) {
	box := DetectBounds("https://api.acme.test/map?bbox=-74.1,40.6,-73.9,40.8", "GET", "")
	require.NotNil(t, box)
	assert.Equal(t, 40.8, box.North)
	assert.Equal(t, -74.1, box.West)

	box = DetectBounds("https://api.acme.test/map", "POST", `{"mapBounds":{"north":10,"south":5,"east":3,"west":1}}`)
	require.NotNil(t, box)
	assert.Equal(t, 5.0, box.South)

	assert.Nil(t, DetectBounds("https://api.acme.test/map?north=1&south=0", "GET", ""))
	assert.True(t, IsBoundsParam("ne_lat"))
	assert.False(t, IsBoundsParam("s"))
}

func TestGridCoversBox(t *testing.T) {
	tiles := Grid(models.BoundingBox{North: 4, South: 0, East: 4, West: 0}, 4)
	require.Len(t, tiles, 16)
	assert.Equal(t, 0.0, tiles[0].Left())
	assert.Equal(t, 1.0, tiles[0].Right())
	assert.Equal(t, 4.0, tiles[15].Top())
	assert.Equal(t, 4.0, tiles[15].Right())
}
