// Package ratelimit provides the randomized inter-request delay routines
// wait on between outbound requests, with an optional requests-per-second
// ceiling.
package ratelimit

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Default delay bounds.
const (
	DefaultMinDelay = 1 * time.Second
	DefaultMaxDelay = 5 * time.Second
)

// ErrInvalidRange is returned when min is negative or greater than max.
var ErrInvalidRange = errors.New("invalid delay range")

// Delayer suspends the caller before the next outbound request.
type Delayer interface {
	Wait(ctx context.Context) error
}

// RandomDelay waits a uniformly random duration in [min, max].
type RandomDelay struct {
	min     time.Duration
	max     time.Duration
	limiter *rate.Limiter

	mu  sync.Mutex
	rnd *rand.Rand

	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a RandomDelay.
type Option func(*RandomDelay)

// WithCeiling adds a token bucket so requests never exceed rps per second.
func WithCeiling(rps float64, burst int) Option {
	return func(r *RandomDelay) {
		if rps <= 0 {
			return
		}
		if burst <= 0 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithSeed makes the delay sequence deterministic.
func WithSeed(seed uint64) Option {
	return func(r *RandomDelay) {
		r.rnd = rand.New(rand.NewPCG(seed, seed))
	}
}

// WithSleeper replaces the sleep function, used by tests to avoid real waits.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *RandomDelay) {
		r.sleep = sleep
	}
}

// NewRandomDelay creates a delayer for the inclusive range [minDelay, maxDelay].
func NewRandomDelay(minDelay, maxDelay time.Duration, opts ...Option) (*RandomDelay, error) {
	if minDelay < 0 || maxDelay < minDelay {
		return nil, ErrInvalidRange
	}

	r := &RandomDelay{
		min:   minDelay,
		max:   maxDelay,
		rnd:   rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		sleep: Sleep,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Next draws the next delay.
func (r *RandomDelay) Next() time.Duration {
	span := r.max - r.min
	if span == 0 {
		return r.min
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.min + time.Duration(r.rnd.Int64N(int64(span)+1))
}

// Wait sleeps for the next random delay, then for the ceiling if configured.
// It returns early with the context error when ctx is done.
func (r *RandomDelay) Wait(ctx context.Context) error {
	if err := r.sleep(ctx, r.Next()); err != nil {
		return err
	}
	if r.limiter != nil {
		return r.limiter.Wait(ctx)
	}
	return nil
}

// Sleep blocks for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
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

// None is a Delayer that never waits.
type None struct{}

// Wait only reports context cancellation.
func (None) Wait(ctx context.Context) error {
	return ctx.Err()
}
