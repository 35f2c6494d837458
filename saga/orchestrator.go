package saga

import (
	"context"
	"fmt"
	"reflect"

	"github.com/google/uuid"

	"github.com/heromessaging/heromessaging/clock"
	"github.com/heromessaging/heromessaging/logging"
	"github.com/heromessaging/heromessaging/message"
)

// CorrelationIDer lets an event supply its correlation id explicitly.
// Events that don't implement it fall back to reflection over a
// CorrelationId/CorrelationID field of type uuid.UUID.
type CorrelationIDer interface {
	SagaCorrelationID() uuid.UUID
}

// Orchestrator dispatches events against saga instances of type S,
// persisting through repo. Grounded on atlanticdynamic-firelynx's
// SagaOrchestrator for its structured-logger-at-every-decision-point style
// and its "derive a deterministic outcome, log, persist" shape; the actual
// state lookup is keyed by the state-machine Definition's
// map[fromState][]transition rather than a fixed participant list.
type Orchestrator[S any] struct {
	def      *Definition[S]
	repo     Repository[S]
	services any
	clock    clock.Clock
	logger   logging.Logger
}

// NewOrchestrator constructs an Orchestrator. services is passed through to
// every StateContext.Services unmodified (e.g. application collaborators
// actions need); it may be nil.
func NewOrchestrator[S any](def *Definition[S], repo Repository[S], services any, clk clock.Clock, logger logging.Logger) (*Orchestrator[S], error) {
	if def == nil {
		return nil, fmt.Errorf("saga: %w: Definition must not be nil", message.ErrInvalidInput)
	}
	if repo == nil {
		return nil, fmt.Errorf("saga: %w: Repository must not be nil", message.ErrInvalidInput)
	}
	if clk == nil {
		clk = clock.System()
	}
	if logger == nil {
		logger = logging.Noop()
	}
	return &Orchestrator[S]{def: def, repo: repo, services: services, clock: clk, logger: logger}, nil
}

// Process dispatches evt against its saga instance: extract the correlation
// id, find or create the instance, select a matching transition, run its
// steps, then persist the result.
func (o *Orchestrator[S]) Process(ctx context.Context, evt any) error {
	correlationID, ok := extractCorrelationID(evt)
	if !ok {
		o.logger.Warn("saga: event has no extractable correlation id, dropping", logging.Any("eventType", fmt.Sprintf("%T", evt)))
		return nil
	}

	instance, err := o.repo.Find(ctx, correlationID)
	if err != nil {
		return fmt.Errorf("saga: find %s: %w", correlationID, err)
	}

	isNew := instance == nil
	if isNew {
		now := o.clock.Now()
		instance = &Instance[S]{
			CorrelationID: correlationID,
			CurrentState:  InitialState,
			Version:       0,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
	}

	candidates := o.def.transitionsFor(instance.CurrentState, evt)
	if len(candidates) == 0 {
		return nil
	}

	raw := &rawContext[S]{
		instance:     instance,
		event:        evt,
		services:     o.services,
		compensation: NewCompensationContext(),
		targetState:  instance.CurrentState,
	}

	var matched *transition[S]
	for _, t := range candidates {
		if t.guard != nil && !t.guard(raw) {
			continue
		}
		matched = t
		break
	}
	if matched == nil {
		return nil
	}

	for _, s := range matched.steps {
		if err := s(raw); err != nil {
			return fmt.Errorf("saga: transition action failed for %s: %w", correlationID, err)
		}
	}

	instance.CurrentState = raw.targetState
	if raw.finalize {
		instance.IsCompleted = true
	}

	if isNew {
		if err := o.repo.Save(ctx, instance); err != nil {
			return fmt.Errorf("saga: save %s: %w", correlationID, err)
		}
		o.logger.Info("saga: instance created", logging.Any("correlationId", correlationID), logging.Any("state", instance.CurrentState))
		return nil
	}

	if err := o.repo.Update(ctx, instance); err != nil {
		o.logger.Warn("saga: update failed", logging.Any("correlationId", correlationID), logging.Any("cause", err))
		return err
	}
	o.logger.Info("saga: instance updated", logging.Any("correlationId", correlationID), logging.Any("state", instance.CurrentState), logging.Any("version", instance.Version))
	return nil
}

func extractCorrelationID(evt any) (uuid.UUID, bool) {
	if c, ok := evt.(CorrelationIDer); ok {
		return c.SagaCorrelationID(), true
	}

	v := reflect.ValueOf(evt)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return uuid.UUID{}, false
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return uuid.UUID{}, false
	}

	for _, name := range []string{"CorrelationId", "CorrelationID"} {
		f := v.FieldByName(name)
		if !f.IsValid() || !f.CanInterface() {
			continue
		}
		if id, ok := f.Interface().(uuid.UUID); ok {
			return id, true
		}
	}
	return uuid.UUID{}, false
}
