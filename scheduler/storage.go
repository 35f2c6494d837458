package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/heromessaging/heromessaging/message"
)

// Storage persists ScheduledMessage entries for StorageBackedScheduler.
// Implementations must be safe for concurrent use: concurrent Adds with
// distinct IDs must all succeed, and concurrent Cancel/MarkDelivered/
// GetPendingCount under mutation must yield internally-consistent results.
type Storage interface {
	// Add stores entry, failing if entry.ScheduleID is already present.
	Add(ctx context.Context, entry ScheduledMessage) error
	// GetDue returns Pending entries with DeliverAt <= upTo, ordered
	// (DeliverAt asc, Priority desc), capped at limit.
	GetDue(ctx context.Context, upTo time.Time, limit int) ([]ScheduledMessage, error)
	Get(ctx context.Context, id uuid.UUID) (*ScheduledMessage, error)
	// Cancel reports true iff a Pending entry was moved to Cancelled.
	Cancel(ctx context.Context, id uuid.UUID) (bool, error)
	// MarkDelivered reports true iff a Pending entry was moved to Delivered.
	MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error)
	// MarkFailed reports true iff a Pending entry was moved to Failed.
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) (bool, error)
	GetPendingCount(ctx context.Context) (int, error)
	Query(ctx context.Context, q Query) ([]ScheduledMessage, error)
	// Cleanup removes Delivered/Cancelled entries older than olderThan
	// (Failed entries are retained), returning the count removed.
	Cleanup(ctx context.Context, olderThan time.Time) (int, error)
}

// memoryStorage is the reference Storage implementation: everything lives
// in a map guarded by a single mutex. Adequate for tests and for embedders
// who don't need cross-process persistence.
type memoryStorage struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*ScheduledMessage
}

// NewMemoryStorage returns an in-memory Storage implementation.
func NewMemoryStorage() Storage {
	return &memoryStorage{entries: make(map[uuid.UUID]*ScheduledMessage)}
}

func (s *memoryStorage) Add(_ context.Context, entry ScheduledMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[entry.ScheduleID]; exists {
		return fmt.Errorf("scheduler: %w: duplicate schedule id %s", message.ErrDuplicate, entry.ScheduleID)
	}
	copied := entry
	s.entries[entry.ScheduleID] = &copied
	return nil
}

func (s *memoryStorage) GetDue(_ context.Context, upTo time.Time, limit int) ([]ScheduledMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []ScheduledMessage
	for _, e := range s.entries {
		if e.Status == Pending && !e.DeliverAt.After(upTo) {
			due = append(due, *e)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].DeliverAt.Equal(due[j].DeliverAt) {
			return due[i].DeliverAt.Before(due[j].DeliverAt)
		}
		return due[i].Priority > due[j].Priority
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *memoryStorage) Get(_ context.Context, id uuid.UUID) (*ScheduledMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, nil
	}
	copied := *e
	return &copied, nil
}

func (s *memoryStorage) Cancel(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || e.Status != Pending {
		return false, nil
	}
	e.Status = Cancelled
	return true, nil
}

func (s *memoryStorage) MarkDelivered(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || e.Status != Pending {
		return false, nil
	}
	e.Status = Delivered
	return true, nil
}

func (s *memoryStorage) MarkFailed(_ context.Context, id uuid.UUID, errMsg string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || e.Status != Pending {
		return false, nil
	}
	e.Status = Failed
	e.LastError = errMsg
	return true, nil
}

func (s *memoryStorage) GetPendingCount(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	for _, e := range s.entries {
		if e.Status == Pending {
			n++
		}
	}
	return n, nil
}

func (s *memoryStorage) Query(_ context.Context, q Query) ([]ScheduledMessage, error) {
	s.mu.RLock()
	all := make([]ScheduledMessage, 0, len(s.entries))
	for _, e := range s.entries {
		all = append(all, *e)
	}
	s.mu.RUnlock()

	filtered := all[:0]
	for _, e := range all {
		if q.Status != nil && e.Status != *q.Status {
			continue
		}
		if q.Destination != "" && e.Destination != q.Destination {
			continue
		}
		if q.MessageType != "" && e.MessageType != q.MessageType {
			continue
		}
		if !q.DeliverAfter.IsZero() && e.DeliverAt.Before(q.DeliverAfter) {
			continue
		}
		if !q.DeliverBefore.IsZero() && e.DeliverAt.After(q.DeliverBefore) {
			continue
		}
		filtered = append(filtered, e)
	}

	// sort once, by (DeliverAt, ScheduleID), so repeated queries against a
	// static data set paginate stably.
	sort.Slice(filtered, func(i, j int) bool {
		if !filtered[i].DeliverAt.Equal(filtered[j].DeliverAt) {
			return filtered[i].DeliverAt.Before(filtered[j].DeliverAt)
		}
		return filtered[i].ScheduleID.String() < filtered[j].ScheduleID.String()
	})

	if q.Offset > 0 {
		if q.Offset >= len(filtered) {
			return nil, nil
		}
		filtered = filtered[q.Offset:]
	}
	if q.Limit > 0 && len(filtered) > q.Limit {
		filtered = filtered[:q.Limit]
	}
	return filtered, nil
}

func (s *memoryStorage) Cleanup(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int
	for id, e := range s.entries {
		if (e.Status == Delivered || e.Status == Cancelled) && e.CreatedAt.Before(olderThan) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed, nil
}
