// Package ratelimit paces and retries calls to external dependencies under a
// requests-per-minute budget with jittered exponential backoff.
//
// State is in-memory and per instance. Construct one Limiter per logical
// external dependency (one per collector, one per embedding client) so each
// gets an independent budget.
package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/corvid-labs/granary/errors"
	"github.com/corvid-labs/granary/logger"
)

// JitterStrategy selects the backoff jitter formula used between retries.
type JitterStrategy string

const (
	JitterExponential  JitterStrategy = "exponential"
	JitterLinear       JitterStrategy = "linear"
	JitterDecorrelated JitterStrategy = "decorrelated"
)

// Config holds rate limiter configuration
type Config struct {
	RequestsPerMinute int
	RetryAttempts     int
	BaseDelay         time.Duration
	Jitter            JitterStrategy
}

// DefaultConfig returns sensible defaults for a polite API consumer
func DefaultConfig(requestsPerMinute int) Config {
	return Config{
		RequestsPerMinute: requestsPerMinute,
		RetryAttempts:     3,
		BaseDelay:         time.Second,
		Jitter:            JitterExponential,
	}
}

const (
	window = 60 * time.Second

	// Inter-request spacing grows from minSpacing toward maxSpacing as the
	// window fills, to avoid bursts even under budget
	minSpacing = 100 * time.Millisecond
	maxSpacing = 500 * time.Millisecond
)

// Limiter paces calls with a token bucket over a 60-second window and
// retries retryable failures with jittered backoff.
type Limiter struct {
	cfg Config
	log *zap.SugaredLogger

	mu           sync.Mutex
	requestCount int
	resetTime    time.Time

	// Injectable for testing
	timeNow   func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
	randFloat func() float64
}

// NewLimiter creates a rate limiter with real time
func NewLimiter(cfg Config, log *zap.SugaredLogger) *Limiter {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	if cfg.Jitter == "" {
		cfg.Jitter = JitterExponential
	}
	return &Limiter{
		cfg:       cfg,
		log:       log,
		timeNow:   time.Now,
		sleep:     sleepCtx,
		randFloat: rand.Float64,
	}
}

// NewLimiterWithClock creates a rate limiter with injectable time and sleep
// functions (for testing). A nil sleep falls back to a real timer.
func NewLimiterWithClock(cfg Config, log *zap.SugaredLogger, timeNow func() time.Time, sleep func(ctx context.Context, d time.Duration) error) *Limiter {
	l := NewLimiter(cfg, log)
	if timeNow != nil {
		l.timeNow = timeNow
	}
	if sleep != nil {
		l.sleep = sleep
	}
	return l
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do runs fn after pacing, retrying retryable failures with backoff.
// Non-retryable errors (HTTP client errors) propagate immediately; otherwise
// the last error propagates once RetryAttempts tries are exhausted.
func (l *Limiter) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < l.cfg.RetryAttempts; attempt++ {
		if err := l.pace(ctx); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if !IsRetryable(lastErr) {
			return lastErr
		}

		if attempt < l.cfg.RetryAttempts-1 {
			delay := l.backoffDelay(attempt)
			l.log.Debugw("Retrying after backoff",
				logger.FieldAttempt, attempt+1,
				logger.FieldDelayMS, delay.Milliseconds(),
				logger.FieldError, lastErr,
			)
			if err := l.sleep(ctx, delay); err != nil {
				return err
			}
		}
	}
	return errors.Wrapf(lastErr, "giving up after %d attempts", l.cfg.RetryAttempts)
}

// Do runs fn through the limiter and returns its value.
// Generic companion to Limiter.Do for calls that produce a result.
func Do[T any](ctx context.Context, l *Limiter, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := l.Do(ctx, func(ctx context.Context) error {
		var innerErr error
		result, innerErr = fn(ctx)
		return innerErr
	})
	return result, err
}

// pace blocks until the call is allowed under the per-minute budget, waiting
// out the remainder of the window when the budget is exhausted and inserting
// a load-proportional spacing delay otherwise.
func (l *Limiter) pace(ctx context.Context) error {
	l.mu.Lock()
	now := l.timeNow()

	if l.resetTime.IsZero() || !now.Before(l.resetTime) {
		l.requestCount = 0
		l.resetTime = now.Add(window)
	}

	var wait time.Duration
	if l.requestCount >= l.cfg.RequestsPerMinute {
		// Budget exhausted: wait out the window plus a little jitter so
		// concurrent consumers of the same upstream don't thundering-herd
		remainder := l.resetTime.Sub(now)
		wait = remainder + time.Duration(l.randFloat()*float64(minSpacing))
		l.requestCount = 0
		l.resetTime = now.Add(wait).Add(window)
		l.log.Debugw("Rate budget exhausted, waiting for new window",
			logger.FieldDelayMS, wait.Milliseconds(),
			"requests_per_minute", l.cfg.RequestsPerMinute,
		)
	} else if l.requestCount > 0 {
		load := float64(l.requestCount) / float64(l.cfg.RequestsPerMinute)
		wait = minSpacing + time.Duration(load*float64(maxSpacing-minSpacing))
	}

	l.requestCount++
	l.mu.Unlock()

	return l.sleep(ctx, wait)
}

// backoffDelay computes the retry delay for a zero-based attempt per the
// configured jitter strategy.
func (l *Limiter) backoffDelay(attempt int) time.Duration {
	base := float64(l.cfg.BaseDelay)
	exp := base * float64(int64(1)<<uint(attempt))

	switch l.cfg.Jitter {
	case JitterDecorrelated:
		return time.Duration(l.randFloat() * exp * 3)
	case JitterLinear:
		return time.Duration(exp + l.randFloat()*float64(time.Second))
	default: // exponential
		return time.Duration(exp + l.randFloat()*exp*0.5)
	}
}

// Stats returns the requests consumed in the current window and the
// remaining capacity.
func (l *Limiter) Stats() (requestsInWindow int, remaining int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.timeNow()
	if l.resetTime.IsZero() || !now.Before(l.resetTime) {
		return 0, l.cfg.RequestsPerMinute
	}

	remaining = l.cfg.RequestsPerMinute - l.requestCount
	if remaining < 0 {
		remaining = 0
	}
	return l.requestCount, remaining
}
