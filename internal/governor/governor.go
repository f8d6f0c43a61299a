// Package governor throttles and retries calls to external model providers.
//
// Every outbound call is wrapped in [Execute] under a caller-chosen key
// (the router uses "provider:model"). The governor grants each key a sliding
// admission window, deduplicates concurrent in-flight calls per key, retries
// rate-limited failures with exponential backoff, and bounds every attempt
// with its own deadline. Keys are independent: throttling one never blocks
// another.
package governor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/crewmatch/coxswain/internal/observe"
	"github.com/crewmatch/coxswain/pkg/provider"
)

// Defaults applied by New when the corresponding Config field is zero.
const (
	DefaultWindow      = time.Minute
	DefaultCapacity    = 30
	DefaultMaxAttempts = 4
	DefaultBaseDelay   = time.Second
	DefaultCallTimeout = 60 * time.Second
)

// Limit is the sliding-window admission budget for one key: at most Capacity
// admissions within any trailing Window.
type Limit struct {
	Capacity int
	Window   time.Duration
}

// Config tunes a Governor. The zero value is usable; New fills in defaults.
type Config struct {
	// DefaultLimit applies to keys without an entry in Limits.
	DefaultLimit Limit

	// Limits maps keys to explicit admission budgets. A key "provider:model"
	// falls back to its "provider" entry before the default, so one budget
	// can cover a whole vendor.
	Limits map[string]Limit

	// MaxAttempts is the total number of attempts for rate-limited failures.
	MaxAttempts int

	// BaseDelay seeds the backoff between attempts; the delay doubles after
	// each rate-limited failure.
	BaseDelay time.Duration

	// CallTimeout bounds each individual attempt.
	CallTimeout time.Duration

	// RetryIf classifies failures worth retrying.
	// Defaults to provider.IsRateLimited.
	RetryIf func(error) bool
}

// Governor enforces per-key admission windows and retry policy.
// Safe for concurrent use.
type Governor struct {
	cfg    Config
	keys   *keyTable
	flight singleflight.Group

	now     func() time.Time
	sleep   func(context.Context, time.Duration) error
	metrics *observe.Metrics
}

// Option customises a Governor.
type Option func(*Governor)

// WithClock replaces the wall clock. Tests use it together with WithSleep to
// drive a simulated clock through window waits.
func WithClock(now func() time.Time) Option {
	return func(g *Governor) {
		g.now = now
	}
}

// WithSleep replaces the context-aware sleep used for window waits and
// backoff delays.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(g *Governor) {
		g.sleep = sleep
	}
}

// New creates a Governor with defaults filled in for zero Config fields.
func New(cfg Config, opts ...Option) *Governor {
	if cfg.DefaultLimit.Capacity <= 0 {
		cfg.DefaultLimit.Capacity = DefaultCapacity
	}
	if cfg.DefaultLimit.Window <= 0 {
		cfg.DefaultLimit.Window = DefaultWindow
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.RetryIf == nil {
		cfg.RetryIf = provider.IsRateLimited
	}

	g := &Governor{
		cfg:     cfg,
		now:     time.Now,
		sleep:   sleepContext,
		metrics: observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(g)
	}
	g.keys = newKeyTable(cfg)
	return g
}

// Execute runs op under the governor's admission, dedup, retry, and timeout
// policy for key. Concurrent calls with the same key share one in-flight
// outcome: exactly one underlying op runs and every caller receives its
// result. This is a package-level function because Go does not support
// method-level type parameters.
//
// The shared run is driven by the initiating caller's context (each attempt
// additionally bounded by the per-attempt deadline). A caller whose ctx ends
// while waiting on someone else's run releases the in-flight marker and
// returns ctx.Err(), so later callers start fresh instead of parking behind
// an outcome nobody will consume.
func Execute[T any](ctx context.Context, g *Governor, key string, op func(context.Context) (T, error)) (T, error) {
	var zero T

	ch := g.flight.DoChan(key, func() (any, error) {
		return g.run(ctx, key, func(ctx context.Context) (any, error) {
			return op(ctx)
		})
	})

	select {
	case res := <-ch:
		if res.Shared {
			g.metrics.GovernorDeduped.Add(ctx, 1)
		}
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	case <-ctx.Done():
		g.flight.Forget(key)
		return zero, ctx.Err()
	}
}

// run drives the admission + attempt + backoff loop for one deduplicated call.
func (g *Governor) run(ctx context.Context, key string, op func(context.Context) (any, error)) (any, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := g.admit(ctx, key); err != nil {
			return nil, err
		}

		result, err := g.attempt(ctx, op)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !g.cfg.RetryIf(err) || attempt+1 >= g.cfg.MaxAttempts {
			return nil, lastErr
		}

		delay := g.cfg.BaseDelay << attempt
		slog.Debug("governor: rate limited, backing off",
			"key", key, "attempt", attempt+1, "delay", delay)
		g.metrics.GovernorRetries.Add(ctx, 1)
		if err := g.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// attempt runs op once under the per-attempt deadline. Deadline expiry is
// reported as a non-retryable timeout failure.
func (g *Governor) attempt(ctx context.Context, op func(context.Context) (any, error)) (any, error) {
	actx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
	defer cancel()

	result, err := op(actx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("governor: timeout after %d seconds: %w",
			int(g.cfg.CallTimeout.Seconds()), context.DeadlineExceeded)
	}
	return result, err
}

// admit blocks until key has a free slot in its sliding window, then records
// the admission. Returns ctx.Err() if ctx ends while waiting; nothing is
// recorded in that case.
func (g *Governor) admit(ctx context.Context, key string) error {
	ks := g.keys.stateFor(key)

	ks.mu.Lock()
	for {
		now := g.now()
		ks.prune(now)
		if len(ks.admissions) < ks.limit.Capacity {
			ks.admissions = append(ks.admissions, now)
			ks.mu.Unlock()
			return nil
		}

		wait := ks.limit.Window - now.Sub(ks.admissions[0])
		ks.mu.Unlock()

		slog.Debug("governor: window full, waiting",
			"key", key, "wait", wait, "capacity", ks.limit.Capacity)
		g.metrics.GovernorWaitDuration.Record(ctx, wait.Seconds())
		if wait > 0 {
			if err := g.sleep(ctx, wait); err != nil {
				return err
			}
		}
		ks.mu.Lock()
	}
}

// sleepContext sleeps for d or until ctx ends, whichever comes first.
func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
