// Package saga implements the long-running, stateful coordination engine:
// a generic state-machine builder DSL, an executor that dispatches events
// against saga instances by correlation id, an optimistic-concurrency
// repository contract, and LIFO compensation.
//
// Grounded on two reference repos, neither of which go-utilpkg itself
// carries an analogue for: kzh125-go-saga's Saga/ExecutionCoordinator (LIFO
// compensation-on-abort, one compensation failure recorded without aborting
// the whole rollback) and atlanticdynamic-firelynx's SagaOrchestrator
// (deterministic ordering, RWMutex-guarded state, a structured-logger call
// at every decision point). Both are reworked into the generic
// map[state][]Transition builder/state-machine shape this package actually
// needs.
package saga

import (
	"time"

	"github.com/google/uuid"
)

// InitialState is the synthetic starting state every saga begins in before
// its first transition fires.
const InitialState = "Initial"

// Instance is the persisted state of one saga: its identity, current state,
// completion flag, and optimistic-concurrency version.
type Instance[S any] struct {
	CorrelationID uuid.UUID
	CurrentState  string
	IsCompleted   bool
	Version       int
	Data          S
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// StateContext is threaded through a transition's actions: the saga
// instance, its typed data, an injected Services value (application
// collaborators the actions need), and the CompensationContext actions
// register undo steps against.
type StateContext[S any, E any] struct {
	Instance      *Instance[S]
	Data          S
	Event         E
	Services      any
	Compensation  *CompensationContext
}

// Action is a transition's executable step. Returning an error propagates
// to the caller of Orchestrator.Process; no saga mutation is persisted.
type Action[S any, E any] func(ctx *StateContext[S, E]) error

// Predicate gates a conditional branch inside a transition.
type Predicate[S any, E any] func(ctx *StateContext[S, E]) bool
