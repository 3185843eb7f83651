package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rental-ingest/models"
	"rental-ingest/utils"
)

func TestNewSchedulerRejectsBadSpec(t *testing.T) {
	h := newHarness(nil, nil)
	_, err := NewScheduler(context.Background(), h.engine, h.sources, "every now and then", "", utils.NewNopLogger())
	assert.Error(t, err)

	s, err := NewScheduler(context.Background(), h.engine, h.sources, "0 */6 * * *", "", utils.NewNopLogger())
	require.NoError(t, err)
	assert.Len(t, s.cron.Entries(), 1)
}

func TestSyncAllRunsEverySource(t *testing.T) {
	h := newHarness(nil, nil)
	ctx := context.Background()
	for _, name := range []string{"acme", "globex"} {
		_, err := h.sources.EnsureSource(ctx, &models.Source{Name: name, TargetURL: target, Kind: models.KindGeneric})
		require.NoError(t, err)
	}

	s, err := NewScheduler(ctx, h.engine, h.sources, "", "", utils.NewNopLogger())
	require.NoError(t, err)
	s.SyncAll(ctx)

	bySource := map[string]int{}
	for _, r := range h.runs.runs {
		bySource[r.SourceName]++
		assert.Equal(t, models.RunCompleted, r.Status)
	}
	assert.Equal(t, map[string]int{"acme": 1, "globex": 1}, bySource)
}

func TestSyncAllSkipsLockedSource(t *testing.T) {
	h := newHarness(nil, nil)
	ctx := context.Background()
	_, err := h.sources.EnsureSource(ctx, &models.Source{Name: "acme", TargetURL: target, Kind: models.KindGeneric})
	require.NoError(t, err)

	release, ok, err := h.locker.TryLock(ctx, "acme")
	require.NoError(t, err)
	require.True(t, ok)
	defer release(ctx)

	s, err := NewScheduler(ctx, h.engine, h.sources, "", "", utils.NewNopLogger())
	require.NoError(t, err)
	s.SyncAll(ctx)
	assert.Empty(t, h.runs.runs)
}

func TestDiscoverAllRefreshesSavedConfig(t *testing.T) {
	h := newHarness([]models.DiscoveredEndpoint{endpoint("https://api.example.com/listings", 12)}, nil)
	ctx := context.Background()
	_, err := h.sources.EnsureSource(ctx, &models.Source{Name: "acme", TargetURL: target, Kind: models.KindGeneric})
	require.NoError(t, err)

	s, err := NewScheduler(ctx, h.engine, h.sources, "", "", utils.NewNopLogger())
	require.NoError(t, err)
	s.DiscoverAll(ctx)

	assert.Equal(t, 1, h.discoverer.calls)
	require.NotNil(t, h.discoveries.saved["acme"])
	assert.Len(t, h.discoveries.saved["acme"].Endpoints, 1)
	assert.Empty(t, h.runs.runs, "rediscovery records no run")
}
