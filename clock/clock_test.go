package clock_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heromessaging/heromessaging/clock"
)

func TestSystemClockSleepRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := clock.System().Sleep(ctx, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSystemClockSleepZeroDurationReturnsImmediately(t *testing.T) {
	start := time.Now()
	err := clock.System().Sleep(context.Background(), 0)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestFakeAdvanceUnblocksSleepers(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fake := clock.NewFake(start)

	done := make(chan error, 1)
	go func() {
		done <- fake.Sleep(context.Background(), 5*time.Second)
	}()

	// give the goroutine a chance to register as a waiter
	for fake.PendingSleepers() == 0 {
		time.Sleep(time.Millisecond)
	}

	fake.Advance(2 * time.Second)
	select {
	case <-done:
		t.Fatal("sleep returned before deadline")
	case <-time.After(20 * time.Millisecond):
	}

	fake.Advance(3 * time.Second)
	require.NoError(t, <-done)
	assert.Equal(t, start.Add(5*time.Second), fake.Now())
}

func TestFakeSleepCancelled(t *testing.T) {
	fake := clock.NewFake(time.Now())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- fake.Sleep(ctx, time.Minute)
	}()

	for fake.PendingSleepers() == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()

	err := <-done
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, fake.PendingSleepers())
}

func TestFakeSleepNonPositiveDurationReturnsImmediately(t *testing.T) {
	fake := clock.NewFake(time.Now())
	require.NoError(t, fake.Sleep(context.Background(), 0))
	require.NoError(t, fake.Sleep(context.Background(), -time.Second))
}
