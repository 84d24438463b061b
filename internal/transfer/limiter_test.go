package transfer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_DoReleasesOnError(t *testing.T) {
	l := NewLimiter(1)
	boom := errors.New("boom")

	err := l.Do(context.Background(), func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, l.InFlight())

	// the single permit must be free again
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, l.Acquire(ctx))
	l.Release()
}

func TestLimiter_BoundsConcurrency(t *testing.T) {
	l := NewLimiter(2)

	var wg sync.WaitGroup

	for range 10 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_ = l.Do(context.Background(), func(context.Context) error {
				time.Sleep(5 * time.Millisecond)

				return nil
			})
		}()
	}

	wg.Wait()

	assert.LessOrEqual(t, l.Peak(), 2)
	assert.GreaterOrEqual(t, l.Peak(), 1)
	assert.Equal(t, 0, l.InFlight())
	assert.Equal(t, 2, l.Capacity())
}

func TestLimiter_AcquireHonoursContext(t *testing.T) {
	l := NewLimiter(1)
	require.NoError(t, l.Acquire(context.Background()))

	defer l.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := l.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, l.InFlight())
}

func TestNewLimiter_MinimumCapacity(t *testing.T) {
	assert.Equal(t, 1, NewLimiter(0).Capacity())
}
