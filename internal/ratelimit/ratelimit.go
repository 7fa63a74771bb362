// Package ratelimit provides the per-provider request throttle plugin
// adapters use in front of their REST clients. It wraps
// golang.org/x/time/rate rather than hand-rolling a token bucket.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter throttles outbound requests to a provider's REST API,
// allowing a short burst before settling to a steady rate, mirroring
// the "RPS with burst" shape venue clients use (requests-per-second
// plus headroom for bursts of polling activity across many views).
type Limiter struct {
	rl *rate.Limiter
}

// New returns a Limiter allowing rps requests per second with a burst
// of up to 2x rps. rps <= 0 falls back to 1 request/sec, matching the
// conservative default venue REST APIs expect from an anonymous client.
func New(rps float64) *Limiter {
	if rps <= 0 {
		rps = 1.0
	}
	burst := int(rps * 2)
	if burst < 1 {
		burst = 1
	}
	return &Limiter{rl: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Wait blocks until a token is available or ctx is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.rl.Wait(ctx)
}

// TryWait reports whether a token was available without blocking.
func (l *Limiter) TryWait() bool {
	return l.rl.Allow()
}

// SetRPS adjusts the steady-state rate and proportional burst.
func (l *Limiter) SetRPS(rps float64) {
	if rps <= 0 {
		return
	}
	l.rl.SetLimit(rate.Limit(rps))
	burst := int(rps * 2)
	if burst < 1 {
		burst = 1
	}
	l.rl.SetBurst(burst)
}

// Reserve mirrors rate.Limiter.ReserveN(time.Now(), 1), useful when a
// caller needs the wait delay without blocking the calling goroutine.
func (l *Limiter) Reserve() time.Duration {
	r := l.rl.Reserve()
	if !r.OK() {
		return 0
	}
	return r.Delay()
}
