package utils

import (
	"context"
	"net"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// HostLimiter enforces a minimum interval between calls per host key.
// Every key owns an independent limiter, so one busy host never delays another.
type HostLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	limiters map[string]*rate.Limiter
}

// NewHostLimiter allows requestsPerSecond calls per host. A non-positive
// value disables limiting.
func NewHostLimiter(requestsPerSecond float64) *HostLimiter {
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	return &HostLimiter{
		limit:    limit,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Wait blocks until the host key may issue its next request.
func (h *HostLimiter) Wait(ctx context.Context, hostKey string) error {
	return h.limiterFor(hostKey).Wait(ctx)
}

func (h *HostLimiter) limiterFor(hostKey string) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()

	l, ok := h.limiters[hostKey]
	if !ok {
		// burst 1: a permit every 1/rps, the first one immediately
		l = rate.NewLimiter(h.limit, 1)
		h.limiters[hostKey] = l
	}
	return l
}

// HostKey returns the lowercased host of rawURL without its port. Unparseable
// input is used as the key unchanged.
func HostKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	host := u.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(host)
}
