// Package scheduler delivers messages at a future time, via either an
// in-process heap-backed dispatcher or a storage-backed polling dispatcher.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/heromessaging/heromessaging/message"
)

// Status is a ScheduledMessage's lifecycle state. Every entry transitions
// Pending -> (Delivered | Cancelled | Failed) at most once.
type Status int

const (
	Pending Status = iota
	Delivered
	Cancelled
	Failed
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Delivered:
		return "Delivered"
	case Cancelled:
		return "Cancelled"
	case Failed:
		return "Failed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// ScheduledMessage is one scheduled delivery.
type ScheduledMessage struct {
	ScheduleID  uuid.UUID
	Message     *message.Message
	DeliverAt   time.Time
	Priority    int
	Destination string
	MessageType string
	Status      Status
	CreatedAt   time.Time
	LastError   string
}

// ScheduleOptions are the optional knobs accepted by Schedule/ScheduleAt.
type ScheduleOptions struct {
	Priority    int
	Destination string
	MessageType string
}

// ScheduleResult is the outcome of a Schedule/ScheduleAt call.
type ScheduleResult struct {
	Success      bool
	ScheduleID   uuid.UUID
	ScheduledFor time.Time
	ErrorMessage string
}

// Query filters GetPending results. All set fields are conjunctive.
// Pagination (Offset/Limit) is applied after filtering and sorting, so
// repeated queries against a static data set paginate stably.
type Query struct {
	Status        *Status
	Destination   string
	MessageType   string
	DeliverAfter  time.Time
	DeliverBefore time.Time
	Offset        int
	Limit         int
}

// DeliveryHandler is invoked when a scheduled message comes due.
type DeliveryHandler interface {
	// Deliver attempts delivery. A non-nil error marks the entry Failed and
	// invokes HandleDeliveryFailure; nil marks it Delivered.
	Deliver(ctx context.Context, entry ScheduledMessage) error
	// HandleDeliveryFailure is invoked after a failed Deliver, so embedders
	// can alert or dead-letter independently of the entry's own MarkFailed
	// bookkeeping.
	HandleDeliveryFailure(ctx context.Context, scheduleID uuid.UUID, cause error)
}

// Scheduler is the contract shared by InMemoryScheduler and
// StorageBackedScheduler.
type Scheduler interface {
	// Schedule delivers msg after delay elapses. delay must be >= 0.
	Schedule(ctx context.Context, msg *message.Message, delay time.Duration, opts ScheduleOptions) (ScheduleResult, error)
	// ScheduleAt delivers msg at deliverAt, which must not precede now by
	// more than a one-second tolerance.
	ScheduleAt(ctx context.Context, msg *message.Message, deliverAt time.Time, opts ScheduleOptions) (ScheduleResult, error)
	// Cancel reports true iff a Pending entry was moved to Cancelled.
	// Returns false if the entry was already dispatched, already resolved,
	// or unknown.
	Cancel(ctx context.Context, scheduleID uuid.UUID) (bool, error)
	GetScheduled(ctx context.Context, scheduleID uuid.UUID) (*ScheduledMessage, error)
	GetPending(ctx context.Context, query Query) ([]ScheduledMessage, error)
	GetPendingCount(ctx context.Context) (int, error)
}

const deliverAtTolerance = time.Second

func validateSchedule(msg *message.Message, deliverAt, now time.Time) error {
	if msg == nil {
		return fmt.Errorf("scheduler: %w: message must not be nil", message.ErrInvalidInput)
	}
	if deliverAt.Before(now.Add(-deliverAtTolerance)) {
		return fmt.Errorf("scheduler: %w: deliverAt is in the past", message.ErrInvalidInput)
	}
	return nil
}

func validateDelay(delay time.Duration) error {
	if delay < 0 {
		return fmt.Errorf("scheduler: %w: delay must not be negative", message.ErrInvalidInput)
	}
	return nil
}
