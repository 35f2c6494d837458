// Package pipeline implements the decorator chain that wraps a message
// processor: validation, rate limiting, retry, and batching. Decorators
// compose outside-in and each satisfies the same Processor contract as the
// thing they wrap, so any combination can be nested.
package pipeline

import (
	"context"

	"github.com/heromessaging/heromessaging/message"
)

// Processor processes a single message, returning the outcome as a
// message.Result rather than an error when the failure is domain-level (a
// validation failure, a rate-limit refusal); err is reserved for
// infrastructure failures (cancellation, a panic recovered downstream) that
// the caller cannot reasonably treat as "the message failed".
type Processor interface {
	Process(ctx context.Context, msg *message.Message, pctx message.ProcessingContext) (message.Result, error)
}

// ProcessorFunc adapts a plain function to Processor.
type ProcessorFunc func(ctx context.Context, msg *message.Message, pctx message.ProcessingContext) (message.Result, error)

// Process implements Processor.
func (f ProcessorFunc) Process(ctx context.Context, msg *message.Message, pctx message.ProcessingContext) (message.Result, error) {
	return f(ctx, msg, pctx)
}
