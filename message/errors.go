package message

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Sentinel errors shared across the module's error taxonomy. Components wrap these with
// fmt.Errorf("...: %w", ErrX) or the richer types below; callers match with
// errors.Is.
var (
	// ErrInvalidInput covers null-required arguments, negative delays, past
	// delivery times, and invalid option combinations.
	ErrInvalidInput = errors.New("heromessaging: invalid input")

	// ErrNotFound covers unknown schedule ids and missing sagas.
	ErrNotFound = errors.New("heromessaging: not found")

	// ErrDuplicate covers duplicate schedule ids and duplicate saga ids.
	ErrDuplicate = errors.New("heromessaging: duplicate")

	// ErrConcurrency covers saga version mismatches on Update.
	ErrConcurrency = errors.New("heromessaging: concurrency conflict")

	// ErrThrottled covers rate limit and queue-wait exhaustion.
	ErrThrottled = errors.New("heromessaging: throttled")

	// ErrFatal covers critical host errors that must never be retried.
	ErrFatal = errors.New("heromessaging: fatal")

	// ErrCancelled covers operations aborted via context cancellation.
	ErrCancelled = errors.New("heromessaging: cancelled")

	// ErrTimeout covers operations that exceeded a configured deadline.
	ErrTimeout = errors.New("heromessaging: timeout")

	// ErrDisposed is returned by operations on a disposed/closed component.
	ErrDisposed = errors.New("heromessaging: disposed")

	// ErrFeatureNotConfigured is returned by Facade operations whose
	// optional collaborator was not supplied at construction.
	ErrFeatureNotConfigured = errors.New("heromessaging: feature not configured")
)

// ConcurrencyError wraps ErrConcurrency, carrying the saga correlation id and
// the version conflict, per §7's "carry enough context to identify the
// operation and correlation id".
type ConcurrencyError struct {
	CorrelationID    uuid.UUID
	ExpectedVersion  int
	ActualVersion    int
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf(
		"heromessaging: saga %s: concurrency conflict: expected version %d, got %d",
		e.CorrelationID, e.ExpectedVersion, e.ActualVersion,
	)
}

func (e *ConcurrencyError) Unwrap() error { return ErrConcurrency }

// CompensationError is one failed compensation action, as run by
// CompensationContext.CompensateAsync.
type CompensationError struct {
	ActionName string
	Err        error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("heromessaging: compensation action %q failed: %v", e.ActionName, e.Err)
}

func (e *CompensationError) Unwrap() error { return e.Err }

// CompensationFailure aggregates one or more CompensationError values raised
// during a single CompensateAsync call, per §4.4's "aggregate wrapping a
// single/multiple CompensationException".
type CompensationFailure struct {
	Errors []*CompensationError
}

func (e *CompensationFailure) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("heromessaging: %d compensation actions failed", len(e.Errors))
}

// Unwrap supports errors.Is/errors.As reaching individual compensation
// failures (Go 1.20+ multi-unwrap).
func (e *CompensationFailure) Unwrap() []error {
	out := make([]error, len(e.Errors))
	for i, ce := range e.Errors {
		out[i] = ce
	}
	return out
}

// ScheduleError pairs a schedule id with the error that affected it. The
// schedulers do not return it: StorageBackedScheduler reports a storage
// failure while scheduling through ScheduleResult.ErrorMessage instead.
type ScheduleError struct {
	ScheduleID uuid.UUID
	Err        error
}

func (e *ScheduleError) Error() string {
	return fmt.Sprintf("heromessaging: schedule %s: %v", e.ScheduleID, e.Err)
}

func (e *ScheduleError) Unwrap() error { return e.Err }
