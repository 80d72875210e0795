package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Pacer spaces out item work. It never stands in for waiting on the page.
type Pacer interface {
	Pace(ctx context.Context) error
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
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

// Throttle blocks for a duration drawn uniformly from [min, max].
type Throttle struct {
	minDelay time.Duration
	maxDelay time.Duration
	mu       sync.Mutex
	rng      *rand.Rand
	sleep    SleepFunc
	paced    int
	total    time.Duration
}

func NewThrottle(minDelay, maxDelay time.Duration) *Throttle {
	if minDelay < 0 {
		minDelay = 0
	}
	if maxDelay < minDelay {
		minDelay, maxDelay = maxDelay, minDelay
		if minDelay < 0 {
			minDelay = 0
		}
	}
	return &Throttle{
		minDelay: minDelay,
		maxDelay: maxDelay,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:    Sleep,
	}
}

// WithSleep replaces the blocking call, for tests.
func (t *Throttle) WithSleep(fn SleepFunc) *Throttle {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sleep = fn
	return t
}

func (t *Throttle) WithSeed(seed int64) *Throttle {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rng = rand.New(rand.NewSource(seed))
	return t
}

func (t *Throttle) Pace(ctx context.Context) error {
	t.mu.Lock()
	d := t.nextLocked()
	sleep := t.sleep
	t.paced++
	t.total += d
	t.mu.Unlock()

	return sleep(ctx, d)
}

// Next draws a delay without sleeping.
func (t *Throttle) Next() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nextLocked()
}

func (t *Throttle) nextLocked() time.Duration {
	if t.minDelay == t.maxDelay {
		return t.minDelay
	}
	delta := int64(t.maxDelay - t.minDelay)
	return t.minDelay + time.Duration(t.rng.Int63n(delta+1))
}

func (t *Throttle) Bounds() (time.Duration, time.Duration) {
	return t.minDelay, t.maxDelay
}

// Stats reports how many pauses were drawn and their sum.
func (t *Throttle) Stats() (int, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paced, t.total
}

// NoPacing never blocks.
type NoPacing struct{}

func (NoPacing) Pace(ctx context.Context) error { return ctx.Err() }
