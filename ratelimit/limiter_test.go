package ratelimit_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heromessaging/heromessaging/clock"
	"github.com/heromessaging/heromessaging/message"
	"github.com/heromessaging/heromessaging/ratelimit"
)

func TestAcquireRejectsOnceCapacityExhausted(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	l, err := ratelimit.New(ratelimit.Options{
		Capacity:   2,
		RefillRate: 1,
		Behavior:   ratelimit.Reject,
		Clock:      fake,
	})
	require.NoError(t, err)

	r1, err := l.Acquire(context.Background(), 1, nil)
	require.NoError(t, err)
	r2, err := l.Acquire(context.Background(), 1, nil)
	require.NoError(t, err)
	r3, err := l.Acquire(context.Background(), 1, nil)
	require.NoError(t, err)

	assert.True(t, r1.Allowed)
	assert.Equal(t, 1.0, r1.RemainingPermits)
	assert.True(t, r2.Allowed)
	assert.Equal(t, 0.0, r2.RemainingPermits)
	assert.False(t, r3.Allowed)

	stats := l.Stats(nil)
	assert.Equal(t, uint64(2), stats.TotalAcquired)
	assert.Equal(t, uint64(1), stats.TotalThrottled)
}

func TestAcquireRefillIsCappedByCapacity(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	l, err := ratelimit.New(ratelimit.Options{
		Capacity:   2,
		RefillRate: 10,
		Behavior:   ratelimit.Reject,
		Clock:      fake,
	})
	require.NoError(t, err)

	_, err = l.Acquire(context.Background(), 1, nil)
	require.NoError(t, err)
	_, err = l.Acquire(context.Background(), 1, nil)
	require.NoError(t, err)
	r, err := l.Acquire(context.Background(), 1, nil)
	require.NoError(t, err)
	assert.False(t, r.Allowed, "bucket should be exhausted")

	fake.Advance(time.Second)

	r1, err := l.Acquire(context.Background(), 1, nil)
	require.NoError(t, err)
	r2, err := l.Acquire(context.Background(), 1, nil)
	require.NoError(t, err)
	r3, err := l.Acquire(context.Background(), 1, nil)
	require.NoError(t, err)

	assert.True(t, r1.Allowed)
	assert.True(t, r2.Allowed)
	assert.False(t, r3.Allowed, "refill is capped at capacity even after 1s at 10/s")
}

func TestAcquireQueueBehaviorSleepsThenSucceeds(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	l, err := ratelimit.New(ratelimit.Options{
		Capacity:     1,
		RefillRate:   1,
		Behavior:     ratelimit.Queue,
		MaxQueueWait: 5 * time.Second,
		Clock:        fake,
	})
	require.NoError(t, err)

	_, err = l.Acquire(context.Background(), 1, nil)
	require.NoError(t, err)

	done := make(chan struct{})
	var result ratelimit.Result
	go func() {
		defer close(done)
		result, err = l.Acquire(context.Background(), 1, nil)
	}()

	// wait for the Acquire goroutine to register its sleep, then advance
	// the fake clock enough to refill one token.
	for fake.PendingSleepers() == 0 {
		time.Sleep(time.Millisecond)
	}
	fake.Advance(time.Second)

	<-done
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestAcquireQueueBehaviorGivesUpPastMaxWait(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	l, err := ratelimit.New(ratelimit.Options{
		Capacity:     1,
		RefillRate:   0.01,
		Behavior:     ratelimit.Queue,
		MaxQueueWait: time.Millisecond,
		Clock:        fake,
	})
	require.NoError(t, err)

	_, err = l.Acquire(context.Background(), 1, nil)
	require.NoError(t, err)

	r, err := l.Acquire(context.Background(), 1, nil)
	require.NoError(t, err)
	assert.False(t, r.Allowed)
	assert.Equal(t, "max queue wait exceeded", r.ReasonPhrase)
}

func TestAcquireCancellationDuringQueueDoesNotConsumeTokens(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	l, err := ratelimit.New(ratelimit.Options{
		Capacity:     1,
		RefillRate:   1,
		Behavior:     ratelimit.Queue,
		MaxQueueWait: time.Hour,
		Clock:        fake,
	})
	require.NoError(t, err)

	_, err = l.Acquire(context.Background(), 1, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = l.Acquire(ctx, 1, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, message.ErrCancelled))
}

func TestAcquireOnDisposedLimiterFails(t *testing.T) {
	l, err := ratelimit.New(ratelimit.Options{Capacity: 1, RefillRate: 1})
	require.NoError(t, err)
	l.Dispose()

	_, err = l.Acquire(context.Background(), 1, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, message.ErrDisposed))
}

func TestNewRejectsInvalidOptions(t *testing.T) {
	_, err := ratelimit.New(ratelimit.Options{Capacity: 0, RefillRate: 1})
	assert.ErrorIs(t, err, message.ErrInvalidInput)

	_, err = ratelimit.New(ratelimit.Options{Capacity: 1, RefillRate: 0})
	assert.ErrorIs(t, err, message.ErrInvalidInput)

	_, err = ratelimit.New(ratelimit.Options{Capacity: 1, RefillRate: 1, Behavior: ratelimit.Queue})
	assert.ErrorIs(t, err, message.ErrInvalidInput)
}

func TestAcquireIsSafeUnderConcurrencyExactCapacityGrantedOnce(t *testing.T) {
	l, err := ratelimit.New(ratelimit.Options{Capacity: 50, RefillRate: 0.0001, Behavior: ratelimit.Reject})
	require.NoError(t, err)

	const callers = 200
	var allowed int64
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			r, err := l.Acquire(context.Background(), 1, nil)
			require.NoError(t, err)
			if r.Allowed {
				atomic.AddInt64(&allowed, 1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 50, allowed)
}

func TestScopedKeysGetIndependentBuckets(t *testing.T) {
	l, err := ratelimit.New(ratelimit.Options{
		Capacity:      1,
		RefillRate:    1,
		Behavior:      ratelimit.Reject,
		EnableScoping: true,
	})
	require.NoError(t, err)

	r1, err := l.Acquire(context.Background(), 1, "tenant-a")
	require.NoError(t, err)
	r2, err := l.Acquire(context.Background(), 1, "tenant-b")
	require.NoError(t, err)

	assert.True(t, r1.Allowed)
	assert.True(t, r2.Allowed)
}

func TestScopedKeysEvictLeastRecentlyUsedPastMaxScopedKeys(t *testing.T) {
	l, err := ratelimit.New(ratelimit.Options{
		Capacity:      1,
		RefillRate:    1,
		Behavior:      ratelimit.Reject,
		EnableScoping: true,
		MaxScopedKeys: 1,
	})
	require.NoError(t, err)

	_, err = l.Acquire(context.Background(), 1, "tenant-a")
	require.NoError(t, err)
	// tenant-a's bucket is now exhausted (capacity 1, 1 permit taken).

	_, err = l.Acquire(context.Background(), 1, "tenant-b")
	require.NoError(t, err)
	// tenant-b evicts tenant-a's entry; re-acquiring for tenant-a gets a
	// fresh bucket rather than the exhausted one.

	r, err := l.Acquire(context.Background(), 1, "tenant-a")
	require.NoError(t, err)
	assert.True(t, r.Allowed)
}
