// Package ratelimit implements the fractional-refill token bucket used by the
// REST pull workers. Each worker owns its own bucket; there is deliberately no
// cross-worker or cross-process coordination.
package ratelimit

import (
	"context"
	"time"
)

// Bucket is a token bucket with fractional refill. It is not safe for
// concurrent use: every worker holds its own instance.
type Bucket struct {
	rate       float64
	perSeconds float64
	allowance  float64
	lastCheck  time.Time

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// New creates a bucket allowing rate tokens every perSeconds seconds. The
// bucket starts full.
func New(rate, perSeconds float64) *Bucket {
	if rate <= 0 {
		rate = 1
	}
	if perSeconds <= 0 {
		perSeconds = 1
	}
	b := &Bucket{
		rate:       rate,
		perSeconds: perSeconds,
		allowance:  rate,
		now:        time.Now,
		sleep:      sleepCtx,
	}
	b.lastCheck = b.now()
	return b
}

// Rate returns the configured token rate.
func (b *Bucket) Rate() float64 {
	return b.rate
}

// GetSleep refills the bucket from elapsed time and either consumes n tokens
// (returning zero) or returns how long the caller must wait before n tokens
// become available.
func (b *Bucket) GetSleep(n float64) time.Duration {
	current := b.now()
	elapsed := current.Sub(b.lastCheck).Seconds()
	b.lastCheck = current

	b.allowance += elapsed * (b.rate / b.perSeconds)
	if b.allowance > b.rate {
		b.allowance = b.rate
	}

	if b.allowance >= n {
		b.allowance -= n
		return 0
	}

	micros := (n - b.allowance) * (b.perSeconds / b.rate) * 1e6
	return time.Duration(micros) * time.Microsecond
}

// WaitUntilAvailable blocks until n tokens have been consumed or the context
// is canceled.
func (b *Bucket) WaitUntilAvailable(ctx context.Context, n float64) error {
	for {
		wait := b.GetSleep(n)
		if wait == 0 {
			return nil
		}
		if err := b.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Wait consumes a single token, blocking as needed.
func (b *Bucket) Wait(ctx context.Context) error {
	return b.WaitUntilAvailable(ctx, 1)
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
