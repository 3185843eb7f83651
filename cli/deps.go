package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"rental-ingest/config"
	"rental-ingest/scraper/browser"
	"rental-ingest/scraper/discovery"
	"rental-ingest/scraper/fallback"
	"rental-ingest/scraper/fetcher"
	"rental-ingest/services/images"
	"rental-ingest/services/ingest"
	"rental-ingest/storage"
	"rental-ingest/utils"
)

// app holds the long-lived collaborators shared by every command.
type app struct {
	cfg    *config.Config
	logger utils.Logger
	store  *storage.Postgres

	browser *browser.Browser
	redis   *redis.Client
	csv     *storage.CSVWriter
	engine  *ingest.Engine
}

// newApp loads configuration and connects to Postgres. The sync engine is
// built separately by withEngine since read-only commands never need it.
func newApp(opts *rootOptions) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if opts.debug {
		cfg.LogDevelopment = true
		cfg.LogLevel = "debug"
	}

	logger, err := utils.NewLogger(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return nil, err
	}

	store, err := storage.NewPostgres(cfg.DSN())
	if err != nil {
		return nil, err
	}
	logger.Debug("connected to postgres", zap.String("host", cfg.PostgresHost), zap.String("db", cfg.PostgresDB))

	return &app{cfg: cfg, logger: logger, store: store}, nil
}

// withEngine wires the full ingestion pipeline onto a.
func (a *app) withEngine(ctx context.Context) error {
	cfg := a.cfg

	limiter := utils.NewHostLimiter(cfg.RequestsPerSecond)
	retry := utils.RetryPolicy{
		MaxRetries:  cfg.MaxRetries,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
		IsRetryable: utils.IsRetryableHTTP,
		Logger:      a.logger,
	}
	client := utils.NewHTTPClient(cfg.RequestTimeout)

	a.browser = browser.New(browser.Options{
		ChromeBin: cfg.ChromeBin,
		Headless:  cfg.Headless,
		UserAgent: cfg.UserAgent,
	}, a.logger)

	disc := discovery.New(a.browser, discovery.Config{
		Timeout:      cfg.DiscoveryTimeout,
		ScrollSteps:  cfg.DiscoveryScrollSteps,
		ScrollPause:  cfg.DiscoveryScrollPause,
		Settle:       cfg.DiscoverySettle,
		MaxBodyBytes: cfg.MaxResponseBytes,
	}, a.logger)

	fetch := fetcher.New(fetcher.Config{
		MaxPages:            cfg.MaxPages,
		OffsetPageSize:      cfg.OffsetPageSize,
		MaxOffsetIterations: cfg.MaxOffsetIterations,
		MaxCursorIterations: cfg.MaxCursorIterations,
		GridSize:            cfg.BoundsGridSize,
		RequestTimeout:      cfg.RequestTimeout,
		MaxResponseBytes:    cfg.MaxResponseBytes,
		UserAgent:           cfg.UserAgent,
	}, client, limiter, retry, a.logger)

	scraper := fallback.New(
		fallback.NewChromeRenderer(a.browser, cfg.FallbackSettle, cfg.FallbackPageTimeout),
		limiter, retry,
		fallback.Config{MaxDetailPages: cfg.FallbackMaxDetailPages},
		a.logger,
	)

	blobs, err := a.blobStore(ctx)
	if err != nil {
		return err
	}
	downloader := images.NewDownloader(images.Config{
		BatchSize: cfg.ImageBatchSize,
		URLOnly:   cfg.ImageURLOnly,
		MaxBytes:  cfg.MaxImageBytes,
		UserAgent: cfg.UserAgent,
	}, client, limiter, retry, a.store, blobs, a.logger)

	locker, err := a.runLocker(ctx)
	if err != nil {
		return err
	}

	deps := ingest.Deps{
		Sources:     a.store,
		Runs:        a.store,
		Listings:    a.store,
		Discoveries: storage.NewDiscoveryFiles(cfg.DiscoveryDir),
		Discoverer:  disc,
		Fetcher:     fetch,
		Fallback:    scraper,
		Images:      downloader,
		Locker:      locker,
	}
	if cfg.RawCSVPath != "" {
		a.csv, err = storage.NewCSVWriter(cfg.RawCSVPath)
		if err != nil {
			return err
		}
		deps.RawWriter = a.csv
	}

	a.engine = ingest.New(deps, a.logger)
	return nil
}

func (a *app) blobStore(ctx context.Context) (images.BlobStore, error) {
	if a.cfg.ImageURLOnly {
		return nil, nil
	}
	if a.cfg.ImageStore == "minio" {
		store, err := storage.NewMinioBlobStore(ctx, storage.MinioConfig{
			Endpoint:  a.cfg.MinioEndpoint,
			AccessKey: a.cfg.MinioAccessKey,
			SecretKey: a.cfg.MinioSecretKey,
			Bucket:    a.cfg.MinioBucket,
			UseSSL:    a.cfg.MinioUseSSL,
		})
		if err != nil {
			return nil, err
		}
		a.logger.Info("storing images in minio", zap.String("bucket", a.cfg.MinioBucket))
		return store, nil
	}
	a.logger.Info("storing images on disk", zap.String("dir", a.cfg.ImageDir))
	return storage.NewFileBlobStore(a.cfg.ImageDir, a.cfg.ImageURLPrefix), nil
}

func (a *app) runLocker(ctx context.Context) (ingest.RunLocker, error) {
	if a.cfg.RedisAddr == "" {
		a.logger.Info("using in-process run lock")
		return storage.NewLocalRunLocker(), nil
	}
	a.redis = redis.NewClient(&redis.Options{
		Addr:     a.cfg.RedisAddr,
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
	})
	if err := a.redis.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis: ping %s: %w", a.cfg.RedisAddr, err)
	}
	return storage.NewRedisRunLocker(a.redis, a.cfg.RunLockTTL), nil
}

// Close waits for background runs and releases everything newApp and
// withEngine opened.
func (a *app) Close() error {
	if a.engine != nil {
		a.engine.Wait()
	}
	var errs []error
	if a.browser != nil {
		a.browser.Close()
	}
	if a.csv != nil {
		errs = append(errs, a.csv.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	errs = append(errs, a.store.Close())
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
