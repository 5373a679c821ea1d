package retry

import (
	"context"
	"math"
	"time"
)

// Backoff is an exponential wait schedule: initial * multiplier^(attempt-1), capped at max.
type Backoff struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
}

// NewBackoff creates a Backoff from millisecond values as found in configuration.
func NewBackoff(initialMillis, maxMillis int, multiplier float64) *Backoff {
	return &Backoff{
		Initial:    time.Duration(initialMillis) * time.Millisecond,
		Multiplier: multiplier,
		Max:        time.Duration(maxMillis) * time.Millisecond,
	}
}

// NoBackoff retries immediately.
func NoBackoff() *Backoff {
	return &Backoff{}
}

// Interval returns the wait after the given failed attempt (starting at 1).
func (b *Backoff) Interval(attempt int) time.Duration {
	if b == nil || b.Initial <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(b.Initial) * math.Pow(mult, float64(attempt-1))
	if b.Max > 0 && d > float64(b.Max) {
		return b.Max
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Wait sleeps for Interval(attempt). It returns ctx.Err() if ctx ends first.
func (b *Backoff) Wait(ctx context.Context, attempt int) error {
	d := b.Interval(attempt)
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
