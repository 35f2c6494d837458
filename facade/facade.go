// Package facade provides HeroMessaging's single embedding-application
// entry point: Send/Publish/batch variants, optional queue/outbox/inbox
// operations, and a metrics/health snapshot surface.
//
// go-utilpkg has no facade-shaped component of its own; this package's
// shape follows directly from the single-entry-point contract it fronts.
// Its atomic-counter discipline for Metrics follows the same wait-free-read
// style catrate.Limiter uses for its own per-category counters.
package facade

import (
	"context"
	"fmt"
	"time"

	"github.com/heromessaging/heromessaging/clock"
	"github.com/heromessaging/heromessaging/logging"
	"github.com/heromessaging/heromessaging/message"
	"github.com/heromessaging/heromessaging/pipeline"
)

// CommandProcessor, QueryProcessor, and EventBus share pipeline.Processor's
// shape: the facade is just another caller of the same processing contract
// the rest of the library composes.
type CommandProcessor = pipeline.Processor
type QueryProcessor = pipeline.Processor
type EventBus = pipeline.Processor

// QueueProcessor is the optional enqueue/start/stop collaborator.
type QueueProcessor interface {
	Enqueue(ctx context.Context, msg *message.Message, pctx message.ProcessingContext) (message.Result, error)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// OutboxProcessor is the optional outbox-publish collaborator.
type OutboxProcessor interface {
	Publish(ctx context.Context, msg *message.Message, pctx message.ProcessingContext) (message.Result, error)
}

// InboxProcessor is the optional incoming-message collaborator.
type InboxProcessor interface {
	ProcessIncoming(ctx context.Context, msg *message.Message, pctx message.ProcessingContext) (message.Result, error)
}

// Options configures New. CommandProcessor, QueryProcessor, and EventBus are
// required; Queue/Outbox/Inbox are optional (nil means "not configured").
type Options struct {
	CommandProcessor CommandProcessor
	QueryProcessor   QueryProcessor
	EventBus         EventBus
	Queue            QueueProcessor
	Outbox           OutboxProcessor
	Inbox            InboxProcessor
	Clock            clock.Clock
	Logger           logging.Logger
}

// Facade is the single object an embedding application holds.
type Facade struct {
	commandProcessor CommandProcessor
	queryProcessor   QueryProcessor
	eventBus         EventBus
	queue            QueueProcessor
	outbox           OutboxProcessor
	inbox            InboxProcessor
	clock            clock.Clock
	logger           logging.Logger
	metrics          Metrics
}

// New constructs a Facade. CommandProcessor, QueryProcessor, and EventBus
// must not be nil; Clock must not be nil (spec: "constructor validates the
// time abstraction is non-null").
func New(opts Options) (*Facade, error) {
	if opts.CommandProcessor == nil {
		return nil, fmt.Errorf("facade: %w: CommandProcessor must not be nil", message.ErrInvalidInput)
	}
	if opts.QueryProcessor == nil {
		return nil, fmt.Errorf("facade: %w: QueryProcessor must not be nil", message.ErrInvalidInput)
	}
	if opts.EventBus == nil {
		return nil, fmt.Errorf("facade: %w: EventBus must not be nil", message.ErrInvalidInput)
	}
	if opts.Clock == nil {
		return nil, fmt.Errorf("facade: %w: Clock must not be nil", message.ErrInvalidInput)
	}
	if opts.Logger == nil {
		opts.Logger = logging.Noop()
	}

	return &Facade{
		commandProcessor: opts.CommandProcessor,
		queryProcessor:   opts.QueryProcessor,
		eventBus:         opts.EventBus,
		queue:            opts.Queue,
		outbox:           opts.Outbox,
		inbox:            opts.Inbox,
		clock:            opts.Clock,
		logger:           opts.Logger,
	}, nil
}

// Send delegates to the command processor, incrementing CommandsSent
// exactly once per successful dispatch.
func (f *Facade) Send(ctx context.Context, cmd *message.Message) (message.Result, error) {
	result, err := f.commandProcessor.Process(ctx, cmd, message.NewProcessingContext("facade.Send"))
	if err == nil && result.IsSuccess() {
		f.metrics.CommandsSent.Add(1)
	}
	return result, err
}

// SendQuery delegates to the query processor, incrementing QueriesSent
// exactly once per successful dispatch.
func (f *Facade) SendQuery(ctx context.Context, query *message.Message) (message.Result, error) {
	result, err := f.queryProcessor.Process(ctx, query, message.NewProcessingContext("facade.SendQuery"))
	if err == nil && result.IsSuccess() {
		f.metrics.QueriesSent.Add(1)
	}
	return result, err
}

// Send sends cmd through f's command processor and type-asserts the
// response data to R, per spec's Send<R>(command) -> R.
func Send[R any](ctx context.Context, f *Facade, cmd *message.Message) (R, error) {
	var zero R
	result, err := f.Send(ctx, cmd)
	if err != nil {
		return zero, err
	}
	if result.IsFailure() {
		return zero, result.Err()
	}
	if r, ok := result.Data().(R); ok {
		return r, nil
	}
	return zero, nil
}

// SendQuery sends query through f's query processor and type-asserts the
// response data to R, per spec's Send<R>(query) -> R.
func SendQuery[R any](ctx context.Context, f *Facade, query *message.Message) (R, error) {
	var zero R
	result, err := f.SendQuery(ctx, query)
	if err != nil {
		return zero, err
	}
	if result.IsFailure() {
		return zero, result.Err()
	}
	if r, ok := result.Data().(R); ok {
		return r, nil
	}
	return zero, nil
}

// Publish delegates to the event bus, incrementing EventsPublished exactly
// once per successful dispatch.
func (f *Facade) Publish(ctx context.Context, evt *message.Message) (message.Result, error) {
	result, err := f.eventBus.Process(ctx, evt, message.NewProcessingContext("facade.Publish"))
	if err == nil && result.IsSuccess() {
		f.metrics.EventsPublished.Add(1)
	}
	return result, err
}

// SendBatch processes each command independently; a failure at index i is
// reported as false at results[i] and its cause at errs[i], never
// short-circuiting the remaining elements. Returns (nil, nil) for an empty
// or nil input.
func (f *Facade) SendBatch(ctx context.Context, cmds []*message.Message) ([]bool, []error) {
	if len(cmds) == 0 {
		return nil, nil
	}
	results := make([]bool, len(cmds))
	errs := make([]error, len(cmds))
	for i, cmd := range cmds {
		result, err := f.Send(ctx, cmd)
		if err != nil {
			errs[i] = err
			continue
		}
		if result.IsFailure() {
			errs[i] = result.Err()
			continue
		}
		results[i] = true
	}
	return results, errs
}

// PublishBatch processes each event independently; see SendBatch for the
// never-short-circuits contract.
func (f *Facade) PublishBatch(ctx context.Context, events []*message.Message) ([]bool, []error) {
	if len(events) == 0 {
		return nil, nil
	}
	results := make([]bool, len(events))
	errs := make([]error, len(events))
	for i, evt := range events {
		result, err := f.Publish(ctx, evt)
		if err != nil {
			errs[i] = err
			continue
		}
		if result.IsFailure() {
			errs[i] = result.Err()
			continue
		}
		results[i] = true
	}
	return results, errs
}

func featureNotConfiguredError(feature, hint string) error {
	return fmt.Errorf("facade: %w: %s functionality is not enabled; configure it via %s", message.ErrFeatureNotConfigured, feature, hint)
}

// Enqueue delegates to the optional queue processor.
func (f *Facade) Enqueue(ctx context.Context, msg *message.Message) (message.Result, error) {
	if f.queue == nil {
		return message.Result{}, featureNotConfiguredError("Queue", "WithQueues()")
	}
	result, err := f.queue.Enqueue(ctx, msg, message.NewProcessingContext("facade.Enqueue"))
	if err == nil && result.IsSuccess() {
		f.metrics.MessagesQueued.Add(1)
	}
	return result, err
}

// StartQueue delegates to the optional queue processor.
func (f *Facade) StartQueue(ctx context.Context) error {
	if f.queue == nil {
		return featureNotConfiguredError("Queue", "WithQueues()")
	}
	return f.queue.Start(ctx)
}

// StopQueue delegates to the optional queue processor.
func (f *Facade) StopQueue(ctx context.Context) error {
	if f.queue == nil {
		return featureNotConfiguredError("Queue", "WithQueues()")
	}
	return f.queue.Stop(ctx)
}

// PublishToOutbox delegates to the optional outbox processor.
func (f *Facade) PublishToOutbox(ctx context.Context, msg *message.Message) (message.Result, error) {
	if f.outbox == nil {
		return message.Result{}, featureNotConfiguredError("Outbox", "WithOutbox()")
	}
	result, err := f.outbox.Publish(ctx, msg, message.NewProcessingContext("facade.PublishToOutbox"))
	if err == nil && result.IsSuccess() {
		f.metrics.OutboxMessages.Add(1)
	}
	return result, err
}

// ProcessIncoming delegates to the optional inbox processor.
func (f *Facade) ProcessIncoming(ctx context.Context, msg *message.Message) (message.Result, error) {
	if f.inbox == nil {
		return message.Result{}, featureNotConfiguredError("Inbox", "WithInbox()")
	}
	result, err := f.inbox.ProcessIncoming(ctx, msg, message.NewProcessingContext("facade.ProcessIncoming"))
	if err == nil && result.IsSuccess() {
		f.metrics.InboxMessages.Add(1)
	}
	return result, err
}

// GetMetrics returns a point-in-time snapshot of the facade's counters.
func (f *Facade) GetMetrics() MetricsSnapshot {
	return MetricsSnapshot{
		CommandsSent:    f.metrics.CommandsSent.Load(),
		QueriesSent:     f.metrics.QueriesSent.Load(),
		EventsPublished: f.metrics.EventsPublished.Load(),
		MessagesQueued:  f.metrics.MessagesQueued.Load(),
		OutboxMessages:  f.metrics.OutboxMessages.Load(),
		InboxMessages:   f.metrics.InboxMessages.Load(),
	}
}

// GetHealth reports the health of all six component slots.
func (f *Facade) GetHealth() HealthReport {
	now := f.clock.Now()

	report := HealthReport{
		CommandProcessor: componentHealth(f.commandProcessor != nil, now),
		QueryProcessor:   componentHealth(f.queryProcessor != nil, now),
		EventBus:         componentHealth(f.eventBus != nil, now),
		Queue:            componentHealth(f.queue != nil, now),
		Outbox:           componentHealth(f.outbox != nil, now),
		Inbox:            componentHealth(f.inbox != nil, now),
	}

	report.IsHealthy = report.CommandProcessor.IsHealthy &&
		report.QueryProcessor.IsHealthy &&
		report.EventBus.IsHealthy &&
		(f.queue == nil || report.Queue.IsHealthy) &&
		(f.outbox == nil || report.Outbox.IsHealthy) &&
		(f.inbox == nil || report.Inbox.IsHealthy)

	return report
}

func componentHealth(present bool, now time.Time) ComponentHealth {
	if present {
		return ComponentHealth{IsHealthy: true, LastChecked: now, Detail: "Operational"}
	}
	return ComponentHealth{IsHealthy: false, LastChecked: now, Detail: "Not Configured"}
}
