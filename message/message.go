// Package message defines HeroMessaging's core data model: the Message base
// type and its four kinds (Command, Query, Event, plain Message), the
// ProcessingContext threaded through the pipeline, the ProcessingResult
// union, and the shared error vocabulary used across every component.
package message

import (
	"time"

	"github.com/google/uuid"
)

// Base carries the identity and tracing fields common to every message kind.
// MessageId must not be uuid.Nil, and Timestamp must not be the zero time;
// both are checked by Valid and by RequiredFieldsValidator. NewBase always
// generates a non-nil MessageId but does not check the timestamp.
type Base struct {
	MessageId     uuid.UUID
	Timestamp     time.Time
	CorrelationId string
	CausationId   string
	Metadata      Metadata
}

// NewBase constructs a Base with a freshly generated MessageId and the given
// timestamp (normally clock.Clock.Now()).
func NewBase(timestamp time.Time) Base {
	return Base{
		MessageId: uuid.New(),
		Timestamp: timestamp,
	}
}

// Valid reports whether the base invariants hold: MessageId != zero and
// Timestamp != default.
func (b Base) Valid() bool {
	return b.MessageId != uuid.Nil && !b.Timestamp.IsZero()
}

// Command is fire-and-forget, or carries a response of type R when sent via
// Facade.Send[R]. The zero-value R for fire-and-forget callers is struct{}.
type Command[R any] struct {
	Base
	Payload any
}

// Query always has a response of type R.
type Query[R any] struct {
	Base
	Payload any
}

// Event fans out to zero or more subscribers (including saga instances).
type Event struct {
	Base
	Payload any
}

// Message is routed to a queue, outbox, or inbox rather than dispatched
// directly to a single processor.
type Message struct {
	Base
	Payload any
}
