package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"rental-ingest/utils"
)

// Scheduler runs syncs of every stored source on one cron spec and a slower
// rediscovery pass on another. Sources are handled one after the other.
type Scheduler struct {
	engine  *Engine
	sources SourceStore
	cron    *cron.Cron
	logger  utils.Logger
	ctx     context.Context
}

// NewScheduler registers both jobs. An empty spec disables its job.
func NewScheduler(ctx context.Context, engine *Engine, sources SourceStore, syncSpec, discoverySpec string, logger utils.Logger) (*Scheduler, error) {
	// a pass still running when its next tick fires is skipped
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	s := &Scheduler{
		engine:  engine,
		sources: sources,
		cron:    c,
		logger:  logger.With(zap.String("component", "scheduler")),
		ctx:     ctx,
	}

	if syncSpec != "" {
		if _, err := s.cron.AddFunc(syncSpec, func() { s.SyncAll(s.ctx) }); err != nil {
			return nil, fmt.Errorf("scheduler: sync spec %q: %w", syncSpec, err)
		}
	}
	if discoverySpec != "" {
		if _, err := s.cron.AddFunc(discoverySpec, func() { s.DiscoverAll(s.ctx) }); err != nil {
			return nil, fmt.Errorf("scheduler: discovery spec %q: %w", discoverySpec, err)
		}
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.cron.Entries())))
	s.cron.Start()
}

// Stop stops scheduling and waits for a running pass to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// SyncAll runs one sync per stored source. A source that is already being
// synced elsewhere is skipped.
func (s *Scheduler) SyncAll(ctx context.Context) {
	sources, err := s.sources.ListSources(ctx)
	if err != nil {
		s.logger.Error("list sources", zap.Error(err))
		return
	}
	for _, src := range sources {
		if ctx.Err() != nil {
			return
		}
		run, err := s.engine.Run(ctx, Request{SourceName: src.Name})
		switch {
		case errors.Is(err, ErrRunInProgress):
			s.logger.Info("sync skipped, run in progress", zap.String("source", src.Name))
		case err != nil:
			s.logger.Error("scheduled sync", zap.String("source", src.Name), zap.Error(err))
		default:
			s.logger.Info("scheduled sync done", zap.String("source", src.Name), zap.String("status", string(run.Status)))
		}
	}
}

// DiscoverAll refreshes the saved discovery result of every stored source.
func (s *Scheduler) DiscoverAll(ctx context.Context) {
	sources, err := s.sources.ListSources(ctx)
	if err != nil {
		s.logger.Error("list sources", zap.Error(err))
		return
	}
	for _, src := range sources {
		if ctx.Err() != nil {
			return
		}
		release, err := s.engine.lock(ctx, src.Name)
		if err != nil {
			s.logger.Info("rediscovery skipped", zap.String("source", src.Name), zap.Error(err))
			continue
		}
		cfg, err := s.engine.Discover(ctx, Request{SourceName: src.Name})
		s.engine.unlock(release, src.Name)
		if err != nil {
			s.logger.Error("scheduled discovery", zap.String("source", src.Name), zap.Error(err))
			continue
		}
		s.logger.Info("scheduled discovery done", zap.String("source", src.Name), zap.Int("endpoints", len(cfg.Endpoints)))
	}
}
