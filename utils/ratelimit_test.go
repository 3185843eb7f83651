package utils

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostLimiterSpacesCallsForSameHost(t *testing.T) {
	const rps = 20 // 50ms interval
	limiter := NewHostLimiter(rps)
	ctx := context.Background()

	var mu sync.Mutex
	var stamps []time.Time
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, limiter.Wait(ctx, "example.com"))
			mu.Lock()
			stamps = append(stamps, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, stamps, 4)
	first, last := stamps[0], stamps[0]
	for _, s := range stamps {
		if s.Before(first) {
			first = s
		}
		if s.After(last) {
			last = s
		}
	}
	// four permits need three full intervals
	assert.GreaterOrEqual(t, last.Sub(first), 140*time.Millisecond)
}

func TestHostLimiterHostsAreIndependent(t *testing.T) {
	limiter := NewHostLimiter(1) // one call per second per host
	ctx := context.Background()

	require.NoError(t, limiter.Wait(ctx, "a.example.com"))

	start := time.Now()
	require.NoError(t, limiter.Wait(ctx, "b.example.com"))
	assert.Less(t, time.Since(start), 100*time.Millisecond, "other host must not be throttled")
}

func TestHostLimiterDisabled(t *testing.T) {
	limiter := NewHostLimiter(0)
	start := time.Now()
	for i := 0; i < 50; i++ {
		require.NoError(t, limiter.Wait(context.Background(), "example.com"))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestHostLimiterRespectsContext(t *testing.T) {
	limiter := NewHostLimiter(0.1)
	require.NoError(t, limiter.Wait(context.Background(), "slow.example.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, limiter.Wait(ctx, "slow.example.com"))
}

func TestHostKey(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://API.Example.com/v1/search", "api.example.com"},
		{"http://example.com:8080/x", "example.com"},
		{"not a url", "not a url"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HostKey(tt.in), tt.in)
	}
}
