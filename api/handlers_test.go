package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rental-ingest/models"
	"rental-ingest/services/ingest"
	"rental-ingest/storage"
	"rental-ingest/utils"
)

type fakeSyncer struct {
	got ingest.Request
	err error
}

func (f *fakeSyncer) Start(_ context.Context, req ingest.Request) (*models.IngestRun, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return &models.IngestRun{ID: "run-1", SourceName: req.SourceName, Status: models.RunQueued, StartedAt: time.Now()}, nil
}

type fakeRuns struct {
	runs      map[string]*models.IngestRun
	gotSource string
	gotLimit  int
	err       error
}

func (f *fakeRuns) GetRun(_ context.Context, id string) (*models.IngestRun, error) {
	if f.err != nil {
		return nil, f.err
	}
	r, ok := f.runs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return r, nil
}

func (f *fakeRuns) ListRuns(_ context.Context, source string, limit int) ([]*models.IngestRun, error) {
	f.gotSource, f.gotLimit = source, limit
	if f.err != nil {
		return nil, f.err
	}
	var out []*models.IngestRun
	for _, r := range f.runs {
		if r.SourceName == source {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeSources struct{ sources []*models.Source }

func (f *fakeSources) ListSources(context.Context) ([]*models.Source, error) {
	return f.sources, nil
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type fixture struct {
	syncer *fakeSyncer
	runs   *fakeRuns
	health *fakePinger
	router http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	noisy := &models.IngestRun{ID: "run-noisy", SourceName: "acme", Status: models.RunCompletedWithErrors}
	for i := 0; i < 30; i++ {
		noisy.AddError(fmt.Sprintf("listing %d failed", i), "", "")
	}
	f := &fixture{
		syncer: &fakeSyncer{},
		runs: &fakeRuns{runs: map[string]*models.IngestRun{
			"run-noisy": noisy,
			"run-clean": {ID: "run-clean", SourceName: "acme", Status: models.RunCompleted},
		}},
		health: &fakePinger{},
	}
	h := NewHandler(f.syncer, f.runs, &fakeSources{}, f.health, 20)
	f.router = NewServer(":0", h, utils.NewNopLogger()).Handler()
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestStartSyncAccepted(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodPost, "/api/v1/sources/acme/sync", `{"targetUrl":"https://acme.example.com/rentals","kind":"wix","forceDiscovery":true,"limit":10}`)

	require.Equal(t, http.StatusAccepted, w.Code)
	body := decode(t, w)
	assert.Equal(t, "run-1", body["id"])
	assert.Equal(t, "queued", body["status"])
	assert.Equal(t, ingest.Request{
		SourceName:     "acme",
		TargetURL:      "https://acme.example.com/rentals",
		Kind:           models.KindWix,
		ForceDiscovery: true,
		Limit:          10,
	}, f.syncer.got)
}

func TestStartSyncWithoutBody(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodPost, "/api/v1/sources/acme/sync", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, ingest.Request{SourceName: "acme"}, f.syncer.got)
}

func TestStartSyncErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		body string
		want int
	}{
		{"run in progress", ingest.ErrRunInProgress, "", http.StatusConflict},
		{"unknown source", fmt.Errorf("%w %q", ingest.ErrUnknownSource, "acme"), "", http.StatusNotFound},
		{"store down", errors.New("connection refused"), "", http.StatusInternalServerError},
		{"bad kind", nil, `{"kind":"xml"}`, http.StatusBadRequest},
		{"bad json", nil, `{"limit":`, http.StatusBadRequest},
		{"negative limit", nil, `{"limit":-1}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.syncer.err = tt.err
			w := f.do(http.MethodPost, "/api/v1/sources/acme/sync", tt.body)
			assert.Equal(t, tt.want, w.Code)
			assert.Contains(t, decode(t, w), "error")
		})
	}
}

func TestGetRunCapsErrors(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/api/v1/runs/run-noisy", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Len(t, body["errors"], 20)
	assert.EqualValues(t, 30, body["errorCount"])

	w = f.do(http.MethodGet, "/api/v1/runs/run-noisy?errors=all", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["errors"], 30)
}

func TestGetRunCleanHasEmptyErrors(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodGet, "/api/v1/runs/run-clean", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{}, decode(t, w)["errors"])
}

func TestGetRunNotFound(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodGet, "/api/v1/runs/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListSourceRuns(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/api/v1/sources/acme/runs", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode(t, w)["count"])
	assert.Equal(t, "acme", f.runs.gotSource)
	assert.Equal(t, defaultRunLimit, f.runs.gotLimit)

	f.do(http.MethodGet, "/api/v1/sources/acme/runs?limit=5000", "")
	assert.Equal(t, maxRunLimit, f.runs.gotLimit)

	w = f.do(http.MethodGet, "/api/v1/sources/acme/runs?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListSourcesEmpty(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodGet, "/api/v1/sources", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{}, decode(t, w)["sources"])
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)

	f.health.err = errors.New("db down")
	w = f.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "unhealthy", decode(t, w)["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
