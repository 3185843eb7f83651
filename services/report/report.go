// Package report renders sources and ingest runs as terminal tables.
package report

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"rental-ingest/models"
)

// Summary aggregates a set of runs.
type Summary struct {
	Runs             int
	ByStatus         map[models.RunStatus]int
	ListingsUpserted int
	ListingsSkipped  int
	ImagesDownloaded int
	Errors           int
	LastFinished     *models.IngestRun
}

func Summarize(runs []*models.IngestRun) *Summary {
	s := &Summary{ByStatus: make(map[models.RunStatus]int)}
	for _, r := range runs {
		s.Runs++
		s.ByStatus[r.Status]++
		s.ListingsUpserted += r.ListingsUpserted
		s.ListingsSkipped += r.ListingsSkipped
		s.ImagesDownloaded += r.ImagesDownloaded
		s.Errors += len(r.Errors)
		if r.FinishedAt == nil {
			continue
		}
		if s.LastFinished == nil || r.FinishedAt.After(*s.LastFinished.FinishedAt) {
			s.LastFinished = r
		}
	}
	return s
}

// Printer writes tables to one output.
type Printer struct {
	out      io.Writer
	errorCap int
}

// NewPrinter returns a Printer that shows at most errorCap errors per run.
// A cap of zero or less shows all of them.
func NewPrinter(out io.Writer, errorCap int) *Printer {
	return &Printer{out: out, errorCap: errorCap}
}

func (p *Printer) newTable(title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(p.out)
	t.SetStyle(table.StyleLight)
	t.Style().Title.Format = text.FormatDefault
	if title != "" {
		t.SetTitle(title)
	}
	return t
}

func (p *Printer) Sources(sources []*models.Source) {
	if len(sources) == 0 {
		fmt.Fprintln(p.out, "No sources configured")
		return
	}
	t := p.newTable("")
	t.AppendHeader(table.Row{"Name", "Kind", "Target URL", "Created"})
	for _, s := range sources {
		t.AppendRow(table.Row{s.Name, s.Kind, truncate(s.TargetURL, 60), formatTime(&s.CreatedAt)})
	}
	t.Render()
}

func (p *Printer) Runs(runs []*models.IngestRun) {
	if len(runs) == 0 {
		fmt.Fprintln(p.out, "No runs recorded")
		return
	}
	t := p.newTable("")
	t.AppendHeader(table.Row{"ID", "Source", "Status", "Fetched", "Upserted", "Skipped", "Images", "Errors", "Started", "Duration"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
		{Number: 8, Align: text.AlignRight},
	})
	for _, r := range runs {
		t.AppendRow(table.Row{
			r.ID,
			r.SourceName,
			r.Status,
			r.RecordsFetched,
			r.ListingsUpserted,
			r.ListingsSkipped,
			fmt.Sprintf("%d/%d", r.ImagesDownloaded, r.ImagesSkipped),
			len(r.Errors),
			formatTime(&r.StartedAt),
			duration(r),
		})
	}
	t.Render()
}

// Run prints one run's counters followed by its errors, capped.
func (p *Printer) Run(r *models.IngestRun) {
	t := p.newTable("Run " + r.ID)
	t.AppendRows([]table.Row{
		{"Source", r.SourceName},
		{"Status", r.Status},
		{"Records fetched", r.RecordsFetched},
		{"Listings upserted", r.ListingsUpserted},
		{"Listings skipped", r.ListingsSkipped},
		{"Images downloaded", r.ImagesDownloaded},
		{"Images skipped", r.ImagesSkipped},
		{"Started", formatTime(&r.StartedAt)},
		{"Finished", formatTime(r.FinishedAt)},
		{"Duration", duration(r)},
	})
	t.Render()

	if len(r.Errors) == 0 {
		return
	}
	shown := r.DisplayErrors(p.errorCap)
	et := p.newTable(fmt.Sprintf("Errors (%d)", len(r.Errors)))
	et.AppendHeader(table.Row{"#", "Message", "URL", "Listing"})
	for i, e := range shown {
		et.AppendRow(table.Row{i + 1, truncate(e.Message, 80), truncate(deref(e.URL), 60), deref(e.ListingID)})
	}
	if hidden := len(r.Errors) - len(shown); hidden > 0 {
		et.AppendSeparator()
		et.AppendRow(table.Row{"", fmt.Sprintf("... and %d more", hidden), "", ""})
	}
	et.Render()
}

// Endpoints prints a discovery result in the order the sync engine tries it.
func (p *Printer) Endpoints(cfg *models.DiscoveryConfig) {
	if cfg == nil || len(cfg.Endpoints) == 0 {
		fmt.Fprintln(p.out, "No listing endpoints discovered")
		return
	}
	t := p.newTable(fmt.Sprintf("%s (%s)", cfg.Source, formatTime(&cfg.DiscoveredAt)))
	t.AppendHeader(table.Row{"#", "Method", "URL", "Pagination", "Listings path", "Samples"})
	for i, ep := range cfg.Best() {
		pagination := string(ep.PaginationType)
		if ep.PaginationParam != "" {
			pagination += " (" + ep.PaginationParam + ")"
		}
		t.AppendRow(table.Row{i + 1, ep.Method, truncate(ep.URL, 70), pagination, ep.ListingsPath, ep.SampleCount})
	}
	t.Render()
}

func (p *Printer) Summary(s *Summary) {
	t := p.newTable("Summary")
	t.AppendRow(table.Row{"Runs", s.Runs})
	statuses := make([]string, 0, len(s.ByStatus))
	for st := range s.ByStatus {
		statuses = append(statuses, string(st))
	}
	sort.Strings(statuses)
	for _, st := range statuses {
		t.AppendRow(table.Row{"  " + st, s.ByStatus[models.RunStatus(st)]})
	}
	t.AppendSeparator()
	t.AppendRow(table.Row{"Listings upserted", s.ListingsUpserted})
	t.AppendRow(table.Row{"Listings skipped", s.ListingsSkipped})
	t.AppendRow(table.Row{"Images downloaded", s.ImagesDownloaded})
	t.AppendRow(table.Row{"Errors", s.Errors})
	if s.LastFinished != nil {
		t.AppendRow(table.Row{"Last finished", formatTime(s.LastFinished.FinishedAt)})
	}
	t.Render()
}

func duration(r *models.IngestRun) string {
	if r.FinishedAt == nil {
		return "-"
	}
	return r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
