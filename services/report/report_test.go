package report

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rental-ingest/models"
)

func sampleRuns() []*models.IngestRun {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	done := start.Add(90 * time.Second)
	later := start.Add(2 * time.Hour)
	laterDone := later.Add(30 * time.Second)

	failed := &models.IngestRun{ID: "run-2", SourceName: "acme", Status: models.RunCompletedWithErrors,
		RecordsFetched: 4, ListingsUpserted: 3, ListingsSkipped: 1, ImagesDownloaded: 2, StartedAt: later, FinishedAt: &laterDone}
	failed.AddError("normalize: missing url", "", "")

	return []*models.IngestRun{
		{ID: "run-1", SourceName: "acme", Status: models.RunCompleted, RecordsFetched: 5,
			ListingsUpserted: 5, ImagesDownloaded: 7, StartedAt: start, FinishedAt: &done},
		failed,
		{ID: "run-3", SourceName: "globex", Status: models.RunRunning, StartedAt: later},
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(sampleRuns())
	assert.Equal(t, 3, s.Runs)
	assert.Equal(t, 1, s.ByStatus[models.RunCompleted])
	assert.Equal(t, 1, s.ByStatus[models.RunCompletedWithErrors])
	assert.Equal(t, 1, s.ByStatus[models.RunRunning])
	assert.Equal(t, 8, s.ListingsUpserted)
	assert.Equal(t, 1, s.ListingsSkipped)
	assert.Equal(t, 9, s.ImagesDownloaded)
	assert.Equal(t, 1, s.Errors)
	require.NotNil(t, s.LastFinished)
	assert.Equal(t, "run-2", s.LastFinished.ID)
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil)
	assert.Zero(t, s.Runs)
	assert.Nil(t, s.LastFinished)
}

func TestRunsTable(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf, 20).Runs(sampleRuns())
	out := buf.String()
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "completed_with_errors")
	assert.Contains(t, out, "1m30s")
	assert.Contains(t, out, "2026-03-01 12:00:00")
}

func TestRunErrorsAreCapped(t *testing.T) {
	run := &models.IngestRun{ID: "run-9", SourceName: "acme", Status: models.RunCompletedWithErrors}
	for i := 0; i < 25; i++ {
		run.AddError(fmt.Sprintf("upsert failed %d", i), fmt.Sprintf("https://example.com/l/%d", i), "")
	}

	var buf bytes.Buffer
	NewPrinter(&buf, 20).Run(run)
	out := buf.String()
	assert.Contains(t, out, "Errors (25)")
	assert.Contains(t, out, "upsert failed 19")
	assert.NotContains(t, out, "upsert failed 20")
	assert.Contains(t, out, "and 5 more")
	assert.Len(t, run.Errors, 25)

	buf.Reset()
	NewPrinter(&buf, 0).Run(run)
	assert.Contains(t, buf.String(), "upsert failed 24")
	assert.NotContains(t, buf.String(), "more")
}

func TestEmptyTables(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, 20)
	p.Runs(nil)
	p.Sources(nil)
	assert.Equal(t, "No runs recorded\nNo sources configured\n", buf.String())
}

func TestSourcesTable(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf, 20).Sources([]*models.Source{
		{Name: "acme", Kind: models.KindWix, TargetURL: "https://acme.example.com/rentals/" + strings.Repeat("x", 80)},
	})
	out := buf.String()
	assert.Contains(t, out, "acme")
	assert.Contains(t, out, "wix")
	assert.Contains(t, out, "...")
}

func TestEndpointsTableOrdersBySamples(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf, 20).Endpoints(&models.DiscoveryConfig{
		Source: "acme",
		Endpoints: []models.DiscoveredEndpoint{
			{Method: "GET", URL: "https://api.example.com/small", PaginationType: models.PaginationNone, ListingsPath: "items", SampleCount: 3},
			{Method: "POST", URL: "https://api.example.com/big", PaginationType: models.PaginationPage, PaginationParam: "page", ListingsPath: "data.results", SampleCount: 24},
		},
	})
	out := buf.String()
	assert.Less(t, strings.Index(out, "/big"), strings.Index(out, "/small"))
	assert.Contains(t, out, "page (page)")

	buf.Reset()
	NewPrinter(&buf, 20).Endpoints(&models.DiscoveryConfig{Source: "acme"})
	assert.Equal(t, "No listing endpoints discovered\n", buf.String())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
