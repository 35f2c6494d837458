package saga

import (
	"context"
	"sync"

	"github.com/heromessaging/heromessaging/message"
)

// compensationAction is one named undo step, registered during forward
// progress and executed in LIFO order on rollback.
type compensationAction struct {
	name string
	run  func(ctx context.Context) error
}

// CompensationContext is the LIFO stack of compensation actions accumulated
// while a saga's transition runs. Grounded on kzh125-go-saga's Abort, which
// walks its action log backwards and runs one compensate call per completed
// sub-transaction, stopping (by default) on first failure.
type CompensationContext struct {
	mu      sync.Mutex
	actions []compensationAction
}

// NewCompensationContext returns an empty CompensationContext.
func NewCompensationContext() *CompensationContext {
	return &CompensationContext{}
}

// AddCompensation pushes a named action onto the stack.
func (c *CompensationContext) AddCompensation(name string, run func(ctx context.Context) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.actions = append(c.actions, compensationAction{name: name, run: run})
}

// HasActions reports whether the stack is non-empty. Per testable property
// #5, this is always false once CompensateAsync has returned.
func (c *CompensationContext) HasActions() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.actions) > 0
}

// CompensateAsync pops actions LIFO and runs each. When stopOnFirstError is
// true, the first failure aborts further pops (already-executed actions
// remain executed); the returned error wraps a single CompensationError. When
// false, every action runs regardless of earlier failures, and every
// failure is collected into one CompensationFailure. The stack is always
// empty after this call returns, regardless of outcome.
func (c *CompensationContext) CompensateAsync(ctx context.Context, stopOnFirstError bool) error {
	c.mu.Lock()
	actions := c.actions
	c.actions = nil
	c.mu.Unlock()

	var failures []*message.CompensationError
	for i := len(actions) - 1; i >= 0; i-- {
		a := actions[i]
		if err := a.run(ctx); err != nil {
			ce := &message.CompensationError{ActionName: a.name, Err: err}
			failures = append(failures, ce)
			if stopOnFirstError {
				return &message.CompensationFailure{Errors: failures}
			}
		}
	}
	if len(failures) == 0 {
		return nil
	}
	return &message.CompensationFailure{Errors: failures}
}
