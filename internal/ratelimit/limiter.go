// Package ratelimit implements per-key token bucket pacing for source
// adapters, verification fetches and classifier calls.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter manages one token bucket per key (host, source id or API name).
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
}

// Config holds rate limiter settings.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
}

// New creates a Limiter. A non-positive RPS disables throttling.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
	}
}

// Wait blocks until a token is available for key, respecting the context.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	l.mu.Lock()
	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[key] = limiter
	}
	l.mu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", key, err)
	}
	return nil
}

// WaitHost rate-limits by the host of the given URL so distinct postings on
// one career site share a bucket.
func (l *Limiter) WaitHost(ctx context.Context, rawURL string) error {
	key := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		key = u.Hostname()
	}
	return l.Wait(ctx, key)
}
