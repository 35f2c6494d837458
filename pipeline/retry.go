package pipeline

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/heromessaging/heromessaging/clock"
	"github.com/heromessaging/heromessaging/logging"
	"github.com/heromessaging/heromessaging/message"
)

// RetryPolicy decides whether, and how long to wait before, a failed
// attempt is retried.
type RetryPolicy interface {
	// MaxRetries is the number of retries permitted beyond the first
	// attempt; an inner processor is invoked at most MaxRetries()+1 times.
	MaxRetries() int
	// ShouldRetry reports whether err (which may describe a Failure result
	// or an infrastructure error) should be retried, given the zero-based
	// attempt number that just failed.
	ShouldRetry(err error, attempt int) bool
	// GetRetryDelay returns how long to sleep before the next attempt,
	// given the zero-based attempt number that just failed.
	GetRetryDelay(attempt int) time.Duration
}

// ExponentialBackoff is the default RetryPolicy: delay doubles each
// attempt up to MaxDelay, with uniform jitter in [-JitterFactor,
// +JitterFactor]. Transient errors (message.ErrTimeout, message.ErrThrottled,
// message.ErrCancelled) are retryable; message.ErrFatal and a nil error are
// not.
type ExponentialBackoff struct {
	Retries      int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
	// Rand supplies jitter; defaults to a package-level source if nil.
	// Injected so tests can make backoff delays deterministic.
	Rand *rand.Rand
}

// NewExponentialBackoff returns an ExponentialBackoff with the library's
// default JitterFactor of 0.1.
func NewExponentialBackoff(retries int, baseDelay, maxDelay time.Duration) ExponentialBackoff {
	return ExponentialBackoff{Retries: retries, BaseDelay: baseDelay, MaxDelay: maxDelay, JitterFactor: 0.1}
}

// MaxRetries implements RetryPolicy.
func (b ExponentialBackoff) MaxRetries() int { return b.Retries }

// ShouldRetry implements RetryPolicy.
func (b ExponentialBackoff) ShouldRetry(err error, _ int) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, message.ErrFatal) {
		return false
	}
	return true
}

// GetRetryDelay implements RetryPolicy. A zero JitterFactor disables jitter
// entirely; use NewExponentialBackoff for the library's default of 0.1.
func (b ExponentialBackoff) GetRetryDelay(attempt int) time.Duration {
	jitterFactor := b.JitterFactor

	base := float64(b.BaseDelay) * math.Pow(2, float64(attempt))
	if max := float64(b.MaxDelay); max > 0 && base > max {
		base = max
	}

	r := b.Rand
	if r == nil {
		r = globalRand
	}
	jitter := 1 + (r.Float64()*2-1)*jitterFactor

	return time.Duration(base * jitter)
}

var globalRand = rand.New(rand.NewSource(1))

// Retry is a Processor decorator that retries Inner per Policy, sleeping
// between attempts via Clock (never time.Sleep directly, so tests can drive
// retry timing deterministically).
type Retry struct {
	Inner  Processor
	Policy RetryPolicy
	Clock  clock.Clock
	Logger logging.Logger
}

// Process implements Processor. Per attempt a = 0..MaxRetries: invoke Inner
// with ProcessingContext.RetryCount = a. A Success result returns
// immediately. A Failure result or an infrastructure error is retried while
// Policy.ShouldRetry holds and a < MaxRetries; otherwise it is returned (a
// Failure result as a Failure result, an infrastructure error as an error —
// it is never swallowed into a Failure).
func (d Retry) Process(ctx context.Context, msg *message.Message, pctx message.ProcessingContext) (message.Result, error) {
	clk := d.Clock
	if clk == nil {
		clk = clock.System()
	}
	max := d.Policy.MaxRetries()

	for attempt := 0; ; attempt++ {
		result, err := d.Inner.Process(ctx, msg, pctx.WithRetryCount(attempt))

		var retryErr error
		switch {
		case err != nil:
			retryErr = err
		case result.IsFailure():
			retryErr = result.Err()
		default:
			return result, nil
		}

		if attempt < max && d.Policy.ShouldRetry(retryErr, attempt) {
			delay := d.Policy.GetRetryDelay(attempt)
			if logger := d.Logger; logger != nil {
				logger.Debug("pipeline: retrying after failure", logging.Int("attempt", attempt), logging.Any("delay", delay), logging.Any("cause", retryErr))
			}
			if sleepErr := clk.Sleep(ctx, delay); sleepErr != nil {
				return message.Result{}, sleepErr
			}
			continue
		}

		if err != nil {
			return message.Result{}, err
		}
		return result, nil
	}
}
