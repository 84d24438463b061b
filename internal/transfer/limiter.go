package transfer

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Limiter bounds how many transfers run at once. Capacity is fixed at construction.
type Limiter struct {
	sem      *semaphore.Weighted
	capacity int64
	inFlight atomic.Int64
	peak     atomic.Int64
}

func NewLimiter(capacity int) *Limiter {
	if capacity < 1 {
		capacity = 1
	}

	return &Limiter{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: int64(capacity),
	}
}

// Acquire blocks until a permit is free or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	n := l.inFlight.Add(1)
	for {
		p := l.peak.Load()
		if n <= p || l.peak.CompareAndSwap(p, n) {
			break
		}
	}

	return nil
}

// Release returns a permit taken by Acquire.
func (l *Limiter) Release() {
	l.inFlight.Add(-1)
	l.sem.Release(1)
}

// Do runs fn while holding a permit. The permit is released on every return path.
func (l *Limiter) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()

	return fn(ctx)
}

func (l *Limiter) Capacity() int {
	return int(l.capacity)
}

// InFlight is the number of permits currently held.
func (l *Limiter) InFlight() int {
	return int(l.inFlight.Load())
}

// Peak is the highest InFlight value observed since construction.
func (l *Limiter) Peak() int {
	return int(l.peak.Load())
}
