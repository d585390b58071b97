// Package ratelimit gates outbound chat and market calls with a token bucket.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"buybot/internal/infra/faults"

	"golang.org/x/time/rate"
)

// Limiter allows up to perInterval calls per interval. The bucket starts full.
type Limiter struct {
	name     string
	limiter  *rate.Limiter
	blocking bool
	now      func() time.Time
}

// New returns a limiter with capacity perInterval, refilled at perInterval per interval.
// In blocking mode Acquire waits for a token; otherwise it fails fast.
func New(name string, perInterval int, interval time.Duration, blocking bool) *Limiter {
	if perInterval < 1 {
		perInterval = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Limiter{
		name:     name,
		limiter:  rate.NewLimiter(rate.Every(interval/time.Duration(perInterval)), perInterval),
		blocking: blocking,
		now:      time.Now,
	}
}

func (l *Limiter) Name() string { return l.name }

// Acquire takes one token. It returns an error wrapping faults.ErrRateLimitExceeded
// when no token is available (non-blocking) or none can arrive before ctx ends (blocking).
func (l *Limiter) Acquire(ctx context.Context) error {
	if !l.blocking {
		if l.limiter.AllowN(l.now(), 1) {
			return nil
		}
		return fmt.Errorf("%s: %w", l.name, faults.ErrRateLimitExceeded)
	}
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: %w: %v", l.name, faults.ErrRateLimitExceeded, err)
	}
	return nil
}
