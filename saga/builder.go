package saga

import (
	"context"
	"fmt"
	"reflect"

	"github.com/heromessaging/heromessaging/message"
)

// step is the internal, type-erased form every builder action compiles
// down to, so Definition can store one flat []step[S] per transition
// without Definition itself needing a type parameter per event type —
// a map of event-name to handler, generalized
// so the handler itself can still be written against a concrete event type
// at the call site.
type step[S any] func(raw *rawContext[S]) error

// rawContext carries the mutable, type-erased transition state a step
// operates on. TransitionTo/Finalize write to targetState/finalize;
// Orchestrator.Process reads them back out once every step has run.
type rawContext[S any] struct {
	instance     *Instance[S]
	event        any
	services     any
	compensation *CompensationContext
	targetState  string
	finalize     bool
}

type transition[S any] struct {
	fromState string
	eventType reflect.Type
	guard     func(raw *rawContext[S]) bool
	steps     []step[S]
}

// Definition is the built, immutable state machine produced by Builder.Build.
type Definition[S any] struct {
	transitions map[string][]*transition[S]
}

// transitionsFor returns the transitions registered for fromState whose
// eventType matches evt's runtime type, in registration order. Guards are
// not evaluated here; Orchestrator.Process checks them.
func (d *Definition[S]) transitionsFor(fromState string, evt any) []*transition[S] {
	evtType := reflect.TypeOf(evt)
	var matches []*transition[S]
	for _, t := range d.transitions[fromState] {
		if t.eventType != evtType {
			continue
		}
		matches = append(matches, t)
	}
	return matches
}

// Builder is the fluent state-machine DSL. The zero value is not usable;
// use NewBuilder.
type Builder[S any] struct {
	def        *Definition[S]
	hasInitial bool
	built      bool
}

// NewBuilder returns an empty Builder for saga data type S.
func NewBuilder[S any]() *Builder[S] {
	return &Builder[S]{def: &Definition[S]{transitions: make(map[string][]*transition[S])}}
}

// Initially configures transitions from the synthetic Initial state.
func (b *Builder[S]) Initially() *StateBuilder[S] {
	b.hasInitial = true
	return &StateBuilder[S]{builder: b, state: InitialState}
}

// During configures transitions from a named state. Duplicate During/InState
// calls for the same name merge into the same transition list.
func (b *Builder[S]) During(state string) *StateBuilder[S] {
	return &StateBuilder[S]{builder: b, state: state}
}

// InState is an alias for During.
func (b *Builder[S]) InState(name string) *StateBuilder[S] {
	return b.During(name)
}

// Build finalizes the Definition. Fails if Initially() was never called.
func (b *Builder[S]) Build() (*Definition[S], error) {
	if !b.hasInitial {
		return nil, fmt.Errorf("saga: %w: state machine must configure an initial state via Initially()", message.ErrInvalidInput)
	}
	b.built = true
	return b.def, nil
}

// StateBuilder configures the transitions available from one state.
type StateBuilder[S any] struct {
	builder *Builder[S]
	state   string
}

// When starts a transition for event type E, registered under sb's state.
// E is supplied as an explicit type argument: When[OrderPaid](sb).
func When[S any, E any](sb *StateBuilder[S]) *TransitionBuilder[S, E] {
	t := &transition[S]{
		fromState: sb.state,
		eventType: reflect.TypeOf((*E)(nil)).Elem(),
	}
	sb.builder.def.transitions[sb.state] = append(sb.builder.def.transitions[sb.state], t)
	return &TransitionBuilder[S, E]{state: sb, t: t}
}

// TransitionBuilder configures one (state, event) transition's actions.
type TransitionBuilder[S any, E any] struct {
	state *StateBuilder[S]
	t     *transition[S]
}

// Guard attaches a selection-time predicate: the transition is only a
// candidate match (whose guard, if any, passes) when
// pred returns true. Distinct from If/Else, which branch *within* an
// already-selected transition's actions.
func (tb *TransitionBuilder[S, E]) Guard(pred Predicate[S, E]) *TransitionBuilder[S, E] {
	tb.t.guard = func(raw *rawContext[S]) bool {
		return pred(newStateContext[S, E](raw))
	}
	return tb
}

// Then attaches one sequential action.
func (tb *TransitionBuilder[S, E]) Then(action Action[S, E]) *TransitionBuilder[S, E] {
	tb.t.steps = append(tb.t.steps, wrapAction(action))
	return tb
}

// ThenAll attaches multiple sequential actions in order.
func (tb *TransitionBuilder[S, E]) ThenAll(actions ...Action[S, E]) *TransitionBuilder[S, E] {
	for _, a := range actions {
		tb.Then(a)
	}
	return tb
}

// CompensateWith pushes a named action onto context.Compensation when this
// step executes.
func (tb *TransitionBuilder[S, E]) CompensateWith(name string, run func(ctx *StateContext[S, E]) error) *TransitionBuilder[S, E] {
	tb.t.steps = append(tb.t.steps, func(raw *rawContext[S]) error {
		sc := newStateContext[S, E](raw)
		raw.compensation.AddCompensation(name, func(context.Context) error { return run(sc) })
		return nil
	})
	return tb
}

// TransitionTo sets the saga's CurrentState when this transition executes.
func (tb *TransitionBuilder[S, E]) TransitionTo(state string) *TransitionBuilder[S, E] {
	tb.t.steps = append(tb.t.steps, func(raw *rawContext[S]) error {
		raw.targetState = state
		return nil
	})
	return tb
}

// Finalize marks the target state as final: executing this transition sets
// IsCompleted = true.
func (tb *TransitionBuilder[S, E]) Finalize() *TransitionBuilder[S, E] {
	tb.t.steps = append(tb.t.steps, func(raw *rawContext[S]) error {
		raw.finalize = true
		return nil
	})
	return tb
}

// MarkAsCompleted is an alias for Finalize.
func (tb *TransitionBuilder[S, E]) MarkAsCompleted() *TransitionBuilder[S, E] {
	return tb.Finalize()
}

// If starts a conditional branch. Exactly one of the Then/TransitionTo/
// Finalize chains attached before Else/EndIf executes, chosen by pred.
func (tb *TransitionBuilder[S, E]) If(pred Predicate[S, E]) *ConditionalBuilder[S, E] {
	cb := &ConditionalBuilder[S, E]{tb: tb, pred: pred, inElse: false}
	return cb
}

// ConditionalBuilder accumulates the then/else branches of an If(...).
type ConditionalBuilder[S any, E any] struct {
	tb         *TransitionBuilder[S, E]
	pred       Predicate[S, E]
	thenSteps  []step[S]
	elseSteps  []step[S]
	inElse     bool
}

func (cb *ConditionalBuilder[S, E]) append(s step[S]) {
	if cb.inElse {
		cb.elseSteps = append(cb.elseSteps, s)
	} else {
		cb.thenSteps = append(cb.thenSteps, s)
	}
}

// Then attaches an action to whichever branch (then/else) is currently open.
func (cb *ConditionalBuilder[S, E]) Then(action Action[S, E]) *ConditionalBuilder[S, E] {
	cb.append(wrapAction(action))
	return cb
}

// TransitionTo sets the target state for whichever branch is currently open.
func (cb *ConditionalBuilder[S, E]) TransitionTo(state string) *ConditionalBuilder[S, E] {
	cb.append(func(raw *rawContext[S]) error {
		raw.targetState = state
		return nil
	})
	return cb
}

// Finalize marks whichever branch is currently open as completing the saga.
func (cb *ConditionalBuilder[S, E]) Finalize() *ConditionalBuilder[S, E] {
	cb.append(func(raw *rawContext[S]) error {
		raw.finalize = true
		return nil
	})
	return cb
}

// Else switches subsequent Then/TransitionTo/Finalize calls to the else
// branch, taken when pred returns false.
func (cb *ConditionalBuilder[S, E]) Else() *ConditionalBuilder[S, E] {
	cb.inElse = true
	return cb
}

// EndIf closes the conditional and returns to the parent transition chain.
func (cb *ConditionalBuilder[S, E]) EndIf() *TransitionBuilder[S, E] {
	pred := cb.pred
	thenSteps := cb.thenSteps
	elseSteps := cb.elseSteps
	cb.tb.t.steps = append(cb.tb.t.steps, func(raw *rawContext[S]) error {
		sc := newStateContext[S, E](raw)
		branch := thenSteps
		if !pred(sc) {
			branch = elseSteps
		}
		for _, s := range branch {
			if err := s(raw); err != nil {
				return err
			}
		}
		return nil
	})
	return cb.tb
}

func newStateContext[S any, E any](raw *rawContext[S]) *StateContext[S, E] {
	evt, _ := raw.event.(E)
	return &StateContext[S, E]{
		Instance:     raw.instance,
		Data:         raw.instance.Data,
		Event:        evt,
		Services:     raw.services,
		Compensation: raw.compensation,
	}
}

func wrapAction[S any, E any](a Action[S, E]) step[S] {
	return func(raw *rawContext[S]) error {
		return a(newStateContext[S, E](raw))
	}
}

// CopyFrom is a convenience Action that copies fields from the event into
// the saga's data, via a caller-supplied assignment function.
func CopyFrom[S any, E any](assign func(data *S, evt E)) Action[S, E] {
	return func(ctx *StateContext[S, E]) error {
		assign(&ctx.Instance.Data, ctx.Event)
		return nil
	}
}

// SetProperty is a convenience Action that sets one property on the saga's
// data, derived from the event via selector.
func SetProperty[S any, E any, V any](setter func(data *S, v V), selector func(evt E) V) Action[S, E] {
	return func(ctx *StateContext[S, E]) error {
		setter(&ctx.Instance.Data, selector(ctx.Event))
		return nil
	}
}
