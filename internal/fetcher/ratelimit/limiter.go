// Package ratelimit throttles a scraper.Fetcher with a token bucket per host.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/hn-fanout-scraper/internal/scraper"
)

// Config holds rate limiter configuration. DefaultRPS <= 0 disables the limit.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
}

// Fetcher waits for a per-host token before delegating each fetch. Page and
// detail fetches to the same host share one bucket.
type Fetcher struct {
	next scraper.Fetcher

	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
}

// New wraps next.
func New(next scraper.Fetcher, cfg Config) *Fetcher {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	return &Fetcher{
		next:         next,
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
	}
}

// Fetch blocks until the host has a token, then fetches. Time spent waiting
// counts against ctx.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if err := f.wait(ctx, rawURL); err != nil {
		return nil, err
	}
	return f.next.Fetch(ctx, rawURL)
}

func (f *Fetcher) wait(ctx context.Context, rawURL string) error {
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	if err := f.limiterFor(host).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

func (f *Fetcher) limiterFor(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	limiter, ok := f.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(f.defaultRate, f.defaultBurst)
		f.limiters[host] = limiter
	}
	return limiter
}
