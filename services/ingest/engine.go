// Package ingest runs sync passes: fetch a source's listings, normalize
// them, store them and mirror their photos, recording everything in an
// IngestRun.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"rental-ingest/metrics"
	"rental-ingest/models"
	"rental-ingest/scraper/fetcher"
	"rental-ingest/services/normalize"
	"rental-ingest/storage"
	"rental-ingest/utils"
)

// ErrRunInProgress is returned when the source already has an active run.
var ErrRunInProgress = errors.New("ingest: a run for this source is already in progress")

// ErrUnknownSource is returned when a source is not stored yet and the
// request carries no target url to create it from.
var ErrUnknownSource = errors.New("ingest: unknown source")

// Request names the source to sync. TargetURL and Kind are only needed the
// first time a source is seen; later they update the stored source.
type Request struct {
	SourceName     string
	TargetURL      string
	Kind           string
	ForceDiscovery bool
	// Limit caps the raw records fetched. Zero means no limit.
	Limit int
}

// Deps are the collaborators of an Engine. Fallback, RawWriter and
// Discoverer may be nil.
type Deps struct {
	Sources     SourceStore
	Runs        RunStore
	Listings    ListingStore
	Discoveries DiscoveryStore
	Discoverer  Discoverer
	Fetcher     Fetcher
	Fallback    FallbackScraper
	Images      ImageDownloader
	Locker      RunLocker
	RawWriter   RawListingWriter
}

type Engine struct {
	deps   Deps
	logger utils.Logger
	now    func() time.Time
	wg     sync.WaitGroup
}

func New(deps Deps, logger utils.Logger) *Engine {
	return &Engine{
		deps:   deps,
		logger: logger.With(zap.String("component", "ingest")),
		now:    time.Now,
	}
}

// Run executes one sync pass and returns its finished IngestRun. A run that
// fails part way is returned with status failed and a nil error; an error is
// only returned when no run could be recorded at all.
func (e *Engine) Run(ctx context.Context, req Request) (*models.IngestRun, error) {
	release, err := e.lock(ctx, req.SourceName)
	if err != nil {
		return nil, err
	}
	defer e.unlock(release, req.SourceName)

	src, run, err := e.open(ctx, req, models.RunRunning)
	if err != nil {
		return nil, err
	}
	e.execute(ctx, src, run, req)
	return run, nil
}

// Start records a queued run and executes it in the background. The returned
// run is a snapshot taken before execution starts; poll the run store for
// progress.
func (e *Engine) Start(ctx context.Context, req Request) (*models.IngestRun, error) {
	release, err := e.lock(ctx, req.SourceName)
	if err != nil {
		return nil, err
	}

	src, run, err := e.open(ctx, req, models.RunQueued)
	if err != nil {
		e.unlock(release, req.SourceName)
		return nil, err
	}
	snapshot := *run

	bg := context.WithoutCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.unlock(release, req.SourceName)

		run.Status = models.RunRunning
		if err := e.deps.Runs.UpdateRunStatus(bg, run.ID, models.RunRunning); err != nil {
			e.logger.Warn("mark run running", zap.String("run_id", run.ID), zap.Error(err))
		}
		e.execute(bg, src, run, req)
	}()
	return &snapshot, nil
}

// Wait blocks until every run started with Start has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Discover runs endpoint discovery for a source and saves the result.
func (e *Engine) Discover(ctx context.Context, req Request) (*models.DiscoveryConfig, error) {
	src, err := e.ensureSource(ctx, req)
	if err != nil {
		return nil, err
	}
	return e.discover(ctx, src)
}

func (e *Engine) lock(ctx context.Context, source string) (func(context.Context) error, error) {
	if source == "" {
		return nil, errors.New("ingest: source name is required")
	}
	if e.deps.Locker == nil {
		return nil, nil
	}
	release, ok, err := e.deps.Locker.TryLock(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("ingest: acquire run lock: %w", err)
	}
	if !ok {
		return nil, ErrRunInProgress
	}
	return release, nil
}

func (e *Engine) unlock(release func(context.Context) error, source string) {
	if release == nil {
		return
	}
	if err := release(context.Background()); err != nil {
		e.logger.Warn("release run lock", zap.String("source", source), zap.Error(err))
	}
}

func (e *Engine) open(ctx context.Context, req Request, status models.RunStatus) (*models.Source, *models.IngestRun, error) {
	src, err := e.ensureSource(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	run := &models.IngestRun{
		ID:         uuid.NewString(),
		SourceID:   src.ID,
		SourceName: src.Name,
		Status:     status,
		Errors:     []models.RunError{},
		StartedAt:  e.now().UTC(),
	}
	if err := e.deps.Runs.CreateRun(ctx, run); err != nil {
		return nil, nil, fmt.Errorf("ingest: create run: %w", err)
	}
	return src, run, nil
}

// ensureSource creates the source on first sight. Fields left empty in req
// keep their stored values.
func (e *Engine) ensureSource(ctx context.Context, req Request) (*models.Source, error) {
	existing, err := e.deps.Sources.GetSource(ctx, req.SourceName)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("ingest: load source: %w", err)
	}

	src := &models.Source{Name: req.SourceName, TargetURL: req.TargetURL, Kind: req.Kind}
	if existing != nil {
		if req.TargetURL == "" && req.Kind == "" {
			return existing, nil
		}
		if src.TargetURL == "" {
			src.TargetURL = existing.TargetURL
		}
		if src.Kind == "" {
			src.Kind = existing.Kind
		}
	}
	if src.TargetURL == "" {
		return nil, fmt.Errorf("%w %q: no target url given", ErrUnknownSource, req.SourceName)
	}
	if src.Kind == "" {
		src.Kind = models.KindGeneric
	}

	stored, err := e.deps.Sources.EnsureSource(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("ingest: ensure source: %w", err)
	}
	return stored, nil
}

// execute fills run in place and always finishes it.
func (e *Engine) execute(ctx context.Context, src *models.Source, run *models.IngestRun, req Request) {
	log := e.logger.With(zap.String("source", src.Name), zap.String("run_id", run.ID))
	log.Info("sync started", zap.String("target", src.TargetURL))

	if err := e.sync(ctx, src, run, req, log); err != nil {
		log.Error("sync failed", zap.Error(err))
		run.AddError(err.Error(), "", "")
		run.Status = models.RunFailed
	} else if len(run.Errors) > 0 {
		run.Status = models.RunCompletedWithErrors
	} else {
		run.Status = models.RunCompleted
	}

	finished := e.now().UTC()
	run.FinishedAt = &finished
	if err := e.deps.Runs.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		log.Error("finish run", zap.Error(err))
	}
	metrics.Runs.WithLabelValues(src.Name, string(run.Status)).Inc()

	log.Info("sync finished",
		zap.String("status", string(run.Status)),
		zap.Int("fetched", run.RecordsFetched),
		zap.Int("upserted", run.ListingsUpserted),
		zap.Int("skipped", run.ListingsSkipped),
		zap.Int("images_downloaded", run.ImagesDownloaded),
		zap.Int("images_skipped", run.ImagesSkipped),
		zap.Int("errors", len(run.Errors)),
		zap.Duration("took", finished.Sub(run.StartedAt)))
}

// sync returns an error only for failures outside the per-listing loop.
func (e *Engine) sync(ctx context.Context, src *models.Source, run *models.IngestRun, req Request, log utils.Logger) error {
	raws, kind, err := e.collect(ctx, src, run, req, log)
	if err != nil {
		return err
	}
	run.RecordsFetched = len(raws)

	if e.deps.RawWriter != nil {
		if err := e.deps.RawWriter.WriteRaw(src.Name, raws); err != nil {
			run.AddError(fmt.Sprintf("raw audit: %v", err), "", "")
		}
	}

	listings := e.normalizeAll(src, kind, raws, run)
	return e.store(ctx, src, listings, run, log)
}

// collect fetches raw records through the discovered endpoints, best sample
// first, and falls back to HTML scraping when none of them yields a result.
// It also reports the source kind that matches the records.
func (e *Engine) collect(ctx context.Context, src *models.Source, run *models.IngestRun, req Request, log utils.Logger) ([]models.RawListing, string, error) {
	cfg, err := e.discoveryConfig(ctx, src, req.ForceDiscovery, run, log)
	if err != nil {
		return nil, "", err
	}

	for _, ep := range cfg.Best() {
		raws, err := e.deps.Fetcher.Fetch(ctx, ep, src.Settings, req.Limit)
		switch {
		case err == nil:
			log.Info("fetched from endpoint", zap.String("endpoint", ep.URL), zap.Int("records", len(raws)))
			return raws, src.Kind, nil
		case errors.Is(err, fetcher.ErrIncomplete):
			log.Warn("endpoint stopped early", zap.String("endpoint", ep.URL), zap.Int("records", len(raws)), zap.Error(err))
			run.AddError(err.Error(), ep.URL, "")
			return raws, src.Kind, nil
		case ctx.Err() != nil:
			return nil, "", ctx.Err()
		default:
			log.Warn("endpoint failed", zap.String("endpoint", ep.URL), zap.Error(err))
			run.AddError(fmt.Sprintf("fetch endpoint: %v", err), ep.URL, "")
		}
	}

	if e.deps.Fallback == nil {
		return nil, "", errors.New("no usable endpoint and html fallback is disabled")
	}
	log.Info("using html fallback", zap.Int("endpoints", len(cfg.Endpoints)))
	res, err := e.deps.Fallback.Scrape(ctx, src.TargetURL)
	if err != nil {
		return nil, "", err
	}
	for _, pe := range res.Failed {
		run.AddError(fmt.Sprintf("detail page: %v", pe.Err), pe.URL, "")
	}
	return res.Listings, normalize.KindSchemaOrg, nil
}

// discoveryConfig loads the saved discovery result, discovering afresh when
// there is none or when forced. Discovery problems are recorded and leave
// an empty config, which sends the run to the HTML fallback.
func (e *Engine) discoveryConfig(ctx context.Context, src *models.Source, force bool, run *models.IngestRun, log utils.Logger) (*models.DiscoveryConfig, error) {
	if !force {
		cfg, err := e.deps.Discoveries.Load(src.Name)
		if err != nil {
			log.Warn("saved discovery unreadable, rediscovering", zap.Error(err))
		} else if cfg != nil {
			return cfg, nil
		}
	}

	cfg, err := e.discover(ctx, src)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		run.AddError(fmt.Sprintf("discovery: %v", err), src.TargetURL, "")
		return &models.DiscoveryConfig{Source: src.Name, TargetURL: src.TargetURL}, nil
	}
	return cfg, nil
}

func (e *Engine) discover(ctx context.Context, src *models.Source) (*models.DiscoveryConfig, error) {
	if e.deps.Discoverer == nil {
		return nil, errors.New("discovery is disabled")
	}
	cfg, err := e.deps.Discoverer.Discover(ctx, src.Name, src.TargetURL)
	if err != nil {
		return nil, err
	}
	if err := e.deps.Discoveries.Save(cfg); err != nil {
		e.logger.Warn("save discovery", zap.String("source", src.Name), zap.Error(err))
	}
	return cfg, nil
}

// normalizeAll maps raws to listings, first occurrence per natural key.
// Failures and duplicates count as skipped.
func (e *Engine) normalizeAll(src *models.Source, kind string, raws []models.RawListing, run *models.IngestRun) []*models.NormalizedListing {
	n := normalize.ForKind(kind, src.TargetURL)
	seen := make(map[string]struct{}, len(raws))
	out := make([]*models.NormalizedListing, 0, len(raws))

	for i, raw := range raws {
		l, err := n.Normalize(raw)
		if err != nil {
			run.ListingsSkipped++
			metrics.ListingsProcessed.WithLabelValues(src.Name, "failed").Inc()
			run.AddError(fmt.Sprintf("normalize record %d: %v", i, err), rawURL(raw), "")
			continue
		}
		key := l.NaturalKey()
		if _, dup := seen[key]; dup {
			run.ListingsSkipped++
			metrics.ListingsProcessed.WithLabelValues(src.Name, "skipped").Inc()
			continue
		}
		seen[key] = struct{}{}
		out = append(out, l)
	}
	return out
}

// store upserts listings one at a time and mirrors the images of every
// listing that was stored.
func (e *Engine) store(ctx context.Context, src *models.Source, listings []*models.NormalizedListing, run *models.IngestRun, log utils.Logger) error {
	for _, l := range listings {
		if err := ctx.Err(); err != nil {
			return err
		}

		id, err := e.deps.Listings.UpsertListing(ctx, src.ID, l)
		if err != nil {
			run.ListingsSkipped++
			metrics.ListingsProcessed.WithLabelValues(src.Name, "failed").Inc()
			run.AddError(fmt.Sprintf("upsert listing: %v", err), l.CanonicalURL, "")
			log.Warn("upsert failed", zap.String("url", l.CanonicalURL), zap.Error(err))
			continue
		}
		run.ListingsUpserted++
		metrics.ListingsProcessed.WithLabelValues(src.Name, "upserted").Inc()

		if len(l.ImageURLs) == 0 || e.deps.Images == nil {
			continue
		}
		res := e.deps.Images.Download(ctx, id, l.ImageURLs, l.ImageHints)
		run.ImagesDownloaded += res.Downloaded
		run.ImagesSkipped += res.Skipped
		run.Errors = append(run.Errors, res.Errors...)
	}
	return nil
}

func rawURL(raw models.RawListing) string {
	for _, k := range []string{"url", "detailUrl", "link", "href"} {
		if s, ok := raw[k].(string); ok {
			return s
		}
	}
	return ""
}
