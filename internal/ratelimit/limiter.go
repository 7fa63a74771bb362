// HostLimiter provides per-host token-bucket rate limiting. The plugin
// adapters' REST clients use the single-bucket Limiter instead.

package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// HostLimiter holds one token bucket per host, created lazily on first use.
type HostLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

// NewLimiter returns a HostLimiter applying rps/burst to every host it sees.
func NewLimiter(rps float64, burst int) *HostLimiter {
	return &HostLimiter{limiters: make(map[string]*rate.Limiter), rps: rps, burst: burst}
}

func (l *HostLimiter) getLimiter(host string) *rate.Limiter {
	l.mu.RLock()
	lim, ok := l.limiters[host]
	l.mu.RUnlock()
	if ok {
		return lim
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[host]; ok {
		return lim
	}
	lim = rate.NewLimiter(rate.Limit(l.rps), l.burst)
	l.limiters[host] = lim
	return lim
}

// Allow reports whether a request to host may proceed immediately.
func (l *HostLimiter) Allow(host string) bool {
	return l.getLimiter(host).Allow()
}

// Wait blocks until a request to host is permitted or ctx is done.
func (l *HostLimiter) Wait(ctx context.Context, host string) error {
	return l.getLimiter(host).Wait(ctx)
}

// SetRPS updates the rate applied to every host's limiter, existing or
// future.
func (l *HostLimiter) SetRPS(rps float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rps = rps
	for _, lim := range l.limiters {
		lim.SetLimit(rate.Limit(rps))
	}
}
