// Package retry wraps a scraper.Fetcher with a bounded, jittered retry loop.
// With MaxAttempts <= 1 the wrapped fetcher is called exactly once.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/hn-fanout-scraper/internal/scraper"
)

// Config bounds the retry loop.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// AttemptTimeout bounds each attempt; zero leaves only the caller's deadline.
	AttemptTimeout time.Duration
}

// Fetcher retries transient failures of the wrapped fetcher.
type Fetcher struct {
	next   scraper.Fetcher
	cfg    Config
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// New wraps next. Defaults mirror a conservative crawler: 250ms base delay
// capped at 5s.
func New(next scraper.Fetcher, cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 250 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{next: next, cfg: cfg, logger: logger, sleep: sleepCtx}
}

// Fetch calls the wrapped fetcher until it succeeds, the error is not
// retryable, attempts run out, or ctx ends.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= f.cfg.MaxAttempts; attempt++ {
		body, err := f.attempt(ctx, url)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !f.shouldRetry(ctx, err, attempt) {
			break
		}
		wait := f.backoff(attempt - 1)
		f.logger.Debug("retrying fetch",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		if err := f.sleep(ctx, wait); err != nil {
			return nil, fmt.Errorf("retry wait: %w", err)
		}
	}
	if f.cfg.MaxAttempts > 1 {
		return nil, fmt.Errorf("after %d attempts: %w", f.cfg.MaxAttempts, lastErr)
	}
	return nil, lastErr
}

func (f *Fetcher) attempt(ctx context.Context, url string) ([]byte, error) {
	if f.cfg.AttemptTimeout <= 0 {
		return f.next.Fetch(ctx, url)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, f.cfg.AttemptTimeout)
	defer cancel()
	return f.next.Fetch(attemptCtx, url)
}

// shouldRetry refuses once the caller's context is done. A deadline hit by a
// single attempt is retryable; anything else is retried unless it is a
// non-timeout network error.
func (f *Fetcher) shouldRetry(ctx context.Context, err error, attempt int) bool {
	if attempt >= f.cfg.MaxAttempts || ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return true
}

// backoff returns the wait before retry number attempt (zero-based): half the
// capped exponential delay plus up to the same again in jitter.
func (f *Fetcher) backoff(attempt int) time.Duration {
	delay := float64(f.cfg.BaseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(f.cfg.MaxDelay) {
		delay = float64(f.cfg.MaxDelay)
	}
	return time.Duration(delay/2) + randomJitter(time.Duration(delay)/2)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
