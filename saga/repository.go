package saga

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/heromessaging/heromessaging/clock"
	"github.com/heromessaging/heromessaging/message"
)

// Repository is the optimistic-concurrency persistence contract for saga
// instances.
type Repository[S any] interface {
	// Save stores a brand-new instance, initializing CreatedAt, UpdatedAt,
	// and Version=0. Fails with ErrDuplicate if the id already exists.
	Save(ctx context.Context, instance *Instance[S]) error
	Find(ctx context.Context, id uuid.UUID) (*Instance[S], error)
	// Update persists instance, incrementing Version and refreshing
	// UpdatedAt. Fails with ErrNotFound if the id is missing, or with
	// ConcurrencyError if the stored Version does not match instance.Version.
	Update(ctx context.Context, instance *Instance[S]) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindByState(ctx context.Context, state string) ([]*Instance[S], error)
	// FindStale returns sagas where !IsCompleted && (now - UpdatedAt) > age.
	FindStale(ctx context.Context, age time.Duration) ([]*Instance[S], error)
}

// memoryRepository is the reference Repository implementation: thread-safe,
// strict version checking, no silent lost updates.
type memoryRepository[S any] struct {
	mu    sync.Mutex
	byID  map[uuid.UUID]*Instance[S]
	clock clock.Clock
}

// NewMemoryRepository returns an in-memory Repository implementation.
func NewMemoryRepository[S any](clk clock.Clock) Repository[S] {
	if clk == nil {
		clk = clock.System()
	}
	return &memoryRepository[S]{byID: make(map[uuid.UUID]*Instance[S]), clock: clk}
}

func (r *memoryRepository[S]) Save(_ context.Context, instance *Instance[S]) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[instance.CorrelationID]; exists {
		return fmt.Errorf("saga: %w: saga %s already exists; use Update", message.ErrDuplicate, instance.CorrelationID)
	}

	now := r.clock.Now()
	instance.Version = 0
	instance.CreatedAt = now
	instance.UpdatedAt = now

	copied := *instance
	r.byID[instance.CorrelationID] = &copied
	return nil
}

func (r *memoryRepository[S]) Find(_ context.Context, id uuid.UUID) (*Instance[S], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	copied := *inst
	return &copied, nil
}

func (r *memoryRepository[S]) Update(_ context.Context, instance *Instance[S]) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.byID[instance.CorrelationID]
	if !ok {
		return fmt.Errorf("saga: %w: saga %s not found; use Save", message.ErrNotFound, instance.CorrelationID)
	}
	if stored.Version != instance.Version {
		return &message.ConcurrencyError{
			CorrelationID:   instance.CorrelationID,
			ExpectedVersion: stored.Version,
			ActualVersion:   instance.Version,
		}
	}

	instance.Version = stored.Version + 1
	instance.UpdatedAt = r.clock.Now()
	instance.CreatedAt = stored.CreatedAt

	copied := *instance
	r.byID[instance.CorrelationID] = &copied
	return nil
}

func (r *memoryRepository[S]) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
	return nil
}

func (r *memoryRepository[S]) FindByState(_ context.Context, state string) ([]*Instance[S], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Instance[S]
	for _, inst := range r.byID {
		if inst.CurrentState == state {
			copied := *inst
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *memoryRepository[S]) FindStale(_ context.Context, age time.Duration) ([]*Instance[S], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	var out []*Instance[S]
	for _, inst := range r.byID {
		if !inst.IsCompleted && now.Sub(inst.UpdatedAt) > age {
			copied := *inst
			out = append(out, &copied)
		}
	}
	return out, nil
}
