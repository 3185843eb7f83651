package config

import (
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	PostgresHost     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort     string `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser     string `env:"POSTGRES_USER" envDefault:"scraper"`
	PostgresPassword string `env:"POSTGRES_PASSWORD" envDefault:"scraper123"`
	PostgresDB       string `env:"POSTGRES_DB" envDefault:"rental_db"`
	PostgresSSLMode  string `env:"POSTGRES_SSLMODE" envDefault:"disable"`

	// Empty RedisAddr falls back to an in-process run lock.
	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	RunLockTTL    time.Duration `env:"RUN_LOCK_TTL" envDefault:"2h"`

	RequestsPerSecond float64       `env:"REQUESTS_PER_SECOND" envDefault:"1"`
	MaxRetries        int           `env:"MAX_RETRIES" envDefault:"3"`
	RetryBaseDelay    time.Duration `env:"RETRY_BASE_DELAY" envDefault:"500ms"`
	RetryMaxDelay     time.Duration `env:"RETRY_MAX_DELAY" envDefault:"15s"`
	RequestTimeout    time.Duration `env:"REQUEST_TIMEOUT" envDefault:"20s"`
	MaxResponseBytes  int64         `env:"MAX_RESPONSE_BYTES" envDefault:"10485760"`
	UserAgent         string        `env:"USER_AGENT" envDefault:"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"`

	MaxPages            int `env:"FETCH_MAX_PAGES" envDefault:"100"`
	OffsetPageSize      int `env:"FETCH_OFFSET_PAGE_SIZE" envDefault:"50"`
	MaxOffsetIterations int `env:"FETCH_MAX_OFFSET_ITERATIONS" envDefault:"200"`
	MaxCursorIterations int `env:"FETCH_MAX_CURSOR_ITERATIONS" envDefault:"200"`
	BoundsGridSize      int `env:"FETCH_BOUNDS_GRID_SIZE" envDefault:"4"`

	ChromeBin            string        `env:"CHROME_BIN"`
	Headless             bool          `env:"HEADLESS" envDefault:"true"`
	DiscoveryDir         string        `env:"DISCOVERY_DIR" envDefault:"./data/discovery"`
	DiscoveryTimeout     time.Duration `env:"DISCOVERY_TIMEOUT" envDefault:"90s"`
	DiscoveryScrollSteps int           `env:"DISCOVERY_SCROLL_STEPS" envDefault:"8"`
	DiscoveryScrollPause time.Duration `env:"DISCOVERY_SCROLL_PAUSE" envDefault:"750ms"`
	DiscoverySettle      time.Duration `env:"DISCOVERY_SETTLE" envDefault:"3s"`

	FallbackMaxDetailPages int           `env:"FALLBACK_MAX_DETAIL_PAGES" envDefault:"50"`
	FallbackSettle         time.Duration `env:"FALLBACK_SETTLE" envDefault:"3s"`
	FallbackPageTimeout    time.Duration `env:"FALLBACK_PAGE_TIMEOUT" envDefault:"60s"`

	ImageBatchSize int    `env:"IMAGE_BATCH_SIZE" envDefault:"4"`
	ImageURLOnly   bool   `env:"IMAGE_URL_ONLY" envDefault:"false"`
	ImageStore     string `env:"IMAGE_STORE" envDefault:"filesystem"`
	ImageDir       string `env:"IMAGE_DIR" envDefault:"./data/images"`
	ImageURLPrefix string `env:"IMAGE_URL_PREFIX" envDefault:"/images"`
	MaxImageBytes  int64  `env:"MAX_IMAGE_BYTES" envDefault:"15728640"`

	MinioEndpoint  string `env:"MINIO_ENDPOINT" envDefault:"localhost:9000"`
	MinioAccessKey string `env:"MINIO_ACCESS_KEY"`
	MinioSecretKey string `env:"MINIO_SECRET_KEY"`
	MinioBucket    string `env:"MINIO_BUCKET" envDefault:"listing-images"`
	MinioUseSSL    bool   `env:"MINIO_USE_SSL" envDefault:"false"`

	RawCSVPath      string `env:"RAW_CSV_PATH"`
	ErrorDisplayCap int    `env:"ERROR_DISPLAY_CAP" envDefault:"20"`

	HTTPAddr          string `env:"HTTP_ADDR" envDefault:":8080"`
	SyncSchedule      string `env:"SYNC_SCHEDULE" envDefault:"0 */6 * * *"`
	DiscoverySchedule string `env:"DISCOVERY_SCHEDULE" envDefault:"0 3 * * 0"`

	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	LogDevelopment bool   `env:"LOG_DEVELOPMENT" envDefault:"false"`
}

// Load reads the .env file and returns a populated Config struct.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}
	return Parse()
}

// Parse populates a Config from the current environment only.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.ImageStore {
	case "filesystem", "minio":
	default:
		return fmt.Errorf("config: IMAGE_STORE must be filesystem or minio, got %q", c.ImageStore)
	}
	if c.ImageBatchSize < 1 {
		return fmt.Errorf("config: IMAGE_BATCH_SIZE must be positive, got %d", c.ImageBatchSize)
	}
	if c.BoundsGridSize < 1 {
		return fmt.Errorf("config: FETCH_BOUNDS_GRID_SIZE must be positive, got %d", c.BoundsGridSize)
	}
	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}
