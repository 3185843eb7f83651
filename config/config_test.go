package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.PostgresHost)
	assert.Equal(t, 100, cfg.MaxPages)
	assert.Equal(t, 50, cfg.OffsetPageSize)
	assert.Equal(t, 200, cfg.MaxOffsetIterations)
	assert.Equal(t, 200, cfg.MaxCursorIterations)
	assert.Equal(t, 4, cfg.BoundsGridSize)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryBaseDelay)
	assert.Equal(t, "filesystem", cfg.ImageStore)
	assert.False(t, cfg.ImageURLOnly)
}

func TestParseOverrides(t *testing.T) {
	t.Setenv("POSTGRES_HOST", "db.internal")
	t.Setenv("REQUESTS_PER_SECOND", "2.5")
	t.Setenv("IMAGE_URL_ONLY", "true")
	t.Setenv("RETRY_MAX_DELAY", "3s")
	t.Setenv("FETCH_BOUNDS_GRID_SIZE", "6")

	cfg, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.PostgresHost)
	assert.InDelta(t, 2.5, cfg.RequestsPerSecond, 1e-9)
	assert.True(t, cfg.ImageURLOnly)
	assert.Equal(t, 3*time.Second, cfg.RetryMaxDelay)
	assert.Equal(t, 6, cfg.BoundsGridSize)
}

func TestParseRejectsUnknownImageStore(t *testing.T) {
	t.Setenv("IMAGE_STORE", "ftp")
	_, err := Parse()
	assert.Error(t, err)
}

func TestDSN(t *testing.T) {
	cfg := &Config{
		PostgresHost: "h", PostgresPort: "1", PostgresUser: "u",
		PostgresPassword: "p", PostgresDB: "d", PostgresSSLMode: "disable",
	}
	assert.Equal(t, "host=h port=1 user=u password=p dbname=d sslmode=disable", cfg.DSN())
}
