// Package clock provides the time abstraction used throughout HeroMessaging.
//
// No component is permitted to read the system clock, or call time.Sleep,
// directly: every blocking-on-time operation goes through a Clock, so that
// tests can drive time deterministically with Fake.
package clock

import (
	"context"
	"time"
)

// Clock abstracts the passage of time. Now returns the current instant;
// Sleep blocks for at least d, or until ctx is cancelled, whichever happens
// first.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Sleep blocks until d has elapsed, or ctx is cancelled. A cancelled
	// ctx returns ctx.Err(); it never returns nil in that case.
	Sleep(ctx context.Context, d time.Duration) error
}

// System is the production Clock, backed by the real wall clock.
func System() Clock {
	return systemClock{}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		return nil
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
