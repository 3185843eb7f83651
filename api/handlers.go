package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"rental-ingest/models"
	"rental-ingest/services/ingest"
	"rental-ingest/storage"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 200
)

// Syncer starts background sync runs.
type Syncer interface {
	Start(ctx context.Context, req ingest.Request) (*models.IngestRun, error)
}

type RunReader interface {
	GetRun(ctx context.Context, id string) (*models.IngestRun, error)
	ListRuns(ctx context.Context, sourceName string, limit int) ([]*models.IngestRun, error)
}

type SourceLister interface {
	ListSources(ctx context.Context) ([]*models.Source, error)
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SyncRequest is the optional body of POST /sources/:name/sync.
type SyncRequest struct {
	TargetURL      string `json:"targetUrl"`
	Kind           string `json:"kind"`
	ForceDiscovery bool   `json:"forceDiscovery"`
	Limit          int    `json:"limit" binding:"gte=0"`
}

// runView is an IngestRun with its error list capped for display.
type runView struct {
	*models.IngestRun
	Errors     []models.RunError `json:"errors"`
	ErrorCount int               `json:"errorCount"`
}

type Handler struct {
	syncer   Syncer
	runs     RunReader
	sources  SourceLister
	health   Pinger
	errorCap int
}

// NewHandler wires the handlers. health may be nil.
func NewHandler(syncer Syncer, runs RunReader, sources SourceLister, health Pinger, errorCap int) *Handler {
	return &Handler{syncer: syncer, runs: runs, sources: sources, health: health, errorCap: errorCap}
}

// StartSync handles POST /api/v1/sources/:name/sync.
func (h *Handler) StartSync(c *gin.Context) {
	var body SyncRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	switch body.Kind {
	case "", models.KindGeneric, models.KindWix:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be generic or wix"})
		return
	}

	run, err := h.syncer.Start(c.Request.Context(), ingest.Request{
		SourceName:     c.Param("name"),
		TargetURL:      body.TargetURL,
		Kind:           body.Kind,
		ForceDiscovery: body.ForceDiscovery,
		Limit:          body.Limit,
	})
	switch {
	case errors.Is(err, ingest.ErrRunInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, ingest.ErrUnknownSource):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case err != nil:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start sync"})
	default:
		c.JSON(http.StatusAccepted, h.view(run, false))
	}
}

// GetRun handles GET /api/v1/runs/:id. ?errors=all returns the full error list.
func (h *Handler) GetRun(c *gin.Context) {
	run, err := h.runs.GetRun(c.Request.Context(), c.Param("id"))
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load run"})
		return
	}
	c.JSON(http.StatusOK, h.view(run, c.Query("errors") == "all"))
}

// ListSourceRuns handles GET /api/v1/sources/:name/runs.
func (h *Handler) ListSourceRuns(c *gin.Context) {
	limit := defaultRunLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxRunLimit)
	}

	runs, err := h.runs.ListRuns(c.Request.Context(), c.Param("name"), limit)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}
	views := make([]runView, 0, len(runs))
	for _, r := range runs {
		views = append(views, h.view(r, false))
	}
	c.JSON(http.StatusOK, gin.H{"runs": views, "count": len(views)})
}

// ListSources handles GET /api/v1/sources.
func (h *Handler) ListSources(c *gin.Context) {
	sources, err := h.sources.ListSources(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list sources"})
		return
	}
	if sources == nil {
		sources = []*models.Source{}
	}
	c.JSON(http.StatusOK, gin.H{"sources": sources, "count": len(sources)})
}

func (h *Handler) Health(c *gin.Context) {
	if h.health != nil {
		if err := h.health.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) view(run *models.IngestRun, allErrors bool) runView {
	errs := run.Errors
	if !allErrors {
		errs = run.DisplayErrors(h.errorCap)
	}
	if errs == nil {
		errs = []models.RunError{}
	}
	return runView{IngestRun: run, Errors: errs, ErrorCount: len(run.Errors)}
}
