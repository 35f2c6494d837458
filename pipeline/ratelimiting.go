package pipeline

import (
	"context"
	"fmt"

	"github.com/heromessaging/heromessaging/message"
	"github.com/heromessaging/heromessaging/ratelimit"
)

// RateLimiting is a Processor decorator that acquires one permit from
// Limiter before forwarding to Inner. The permit is consumed regardless of
// Inner's outcome — a failure from Inner does not refund it.
type RateLimiting struct {
	Inner   Processor
	Limiter *ratelimit.Limiter
	// EnableScoping, if true, derives the rate-limit bucket key from the
	// message's payload type; otherwise every message shares the global
	// bucket (key nil).
	EnableScoping bool
}

// Process implements Processor.
func (d RateLimiting) Process(ctx context.Context, msg *message.Message, pctx message.ProcessingContext) (message.Result, error) {
	var key any
	if d.EnableScoping {
		key = fmt.Sprintf("%T", msg.Payload)
	}

	result, err := d.Limiter.Acquire(ctx, 1, key)
	if err != nil {
		return message.Result{}, err
	}
	if !result.Allowed {
		return message.Failure(fmt.Errorf("%w: rate limit exceeded (%s)", message.ErrThrottled, result.ReasonPhrase), msg), nil
	}

	return d.Inner.Process(ctx, msg, pctx)
}
