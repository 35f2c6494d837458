package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/heromessaging/heromessaging/clock"
	"github.com/heromessaging/heromessaging/logging"
	"github.com/heromessaging/heromessaging/message"
)

// maxDispatcherSleep bounds how long the dispatcher ever sleeps in one
// stretch when the queue is empty. Stop and an earlier new entry both wake
// it sooner by cancelling the sleep's context.
const maxDispatcherSleep = 24 * time.Hour

type schedEntry struct {
	msg      ScheduledMessage
	index    int  // heap index, maintained by container/heap
	inFlight bool // true once popped for dispatch; makes Cancel race-safe
}

// entryHeap orders by (DeliverAt asc, Priority desc).
type entryHeap []*schedEntry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if !h[i].msg.DeliverAt.Equal(h[j].msg.DeliverAt) {
		return h[i].msg.DeliverAt.Before(h[j].msg.DeliverAt)
	}
	return h[i].msg.Priority > h[j].msg.Priority
}
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *entryHeap) Push(x any) {
	e := x.(*schedEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// InMemoryScheduler dispatches scheduled messages from an in-process
// container/heap priority queue. A dedicated dispatcher goroutine sleeps
// until the earliest deadline, using clock.Clock.Sleep rather than
// time.Sleep, and races that sleep against newly-scheduled entries landing
// earlier than the current wait — grounded on longpoll.Channel's
// cancellation-first select idiom, adapted from "wait on one value channel"
// to "wait on a changing deadline, wake early via context cancellation".
type InMemoryScheduler struct {
	clock   clock.Clock
	handler DeliveryHandler
	logger  logging.Logger

	mu         sync.Mutex
	heap       entryHeap
	byID       map[uuid.UUID]*schedEntry
	wakeCancel context.CancelFunc

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewInMemoryScheduler constructs and starts an InMemoryScheduler. handler
// must not be nil.
func NewInMemoryScheduler(handler DeliveryHandler, clk clock.Clock, logger logging.Logger) (*InMemoryScheduler, error) {
	if handler == nil {
		return nil, fmt.Errorf("scheduler: %w: DeliveryHandler must not be nil", message.ErrInvalidInput)
	}
	if clk == nil {
		clk = clock.System()
	}
	if logger == nil {
		logger = logging.Noop()
	}

	s := &InMemoryScheduler{
		clock:   clk,
		handler: handler,
		logger:  logger,
		byID:    make(map[uuid.UUID]*schedEntry),
		done:    make(chan struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	go s.run()

	return s, nil
}

// Stop shuts the dispatcher down. Already-dispatched deliveries are not
// awaited.
func (s *InMemoryScheduler) Stop() {
	s.cancel()
	<-s.done
}

// Schedule implements Scheduler.
func (s *InMemoryScheduler) Schedule(ctx context.Context, msg *message.Message, delay time.Duration, opts ScheduleOptions) (ScheduleResult, error) {
	if err := validateDelay(delay); err != nil {
		return ScheduleResult{}, err
	}
	return s.ScheduleAt(ctx, msg, s.clock.Now().Add(delay), opts)
}

// ScheduleAt implements Scheduler.
func (s *InMemoryScheduler) ScheduleAt(_ context.Context, msg *message.Message, deliverAt time.Time, opts ScheduleOptions) (ScheduleResult, error) {
	now := s.clock.Now()
	if err := validateSchedule(msg, deliverAt, now); err != nil {
		return ScheduleResult{}, err
	}

	entry := &schedEntry{msg: ScheduledMessage{
		ScheduleID:  uuid.New(),
		Message:     msg,
		DeliverAt:   deliverAt,
		Priority:    opts.Priority,
		Destination: opts.Destination,
		MessageType: opts.MessageType,
		Status:      Pending,
		CreatedAt:   now,
	}}

	s.mu.Lock()
	s.byID[entry.msg.ScheduleID] = entry
	wasEarliest := len(s.heap) == 0 || deliverAt.Before(s.heap[0].msg.DeliverAt)
	heap.Push(&s.heap, entry)
	if wasEarliest && s.wakeCancel != nil {
		s.wakeCancel()
	}
	s.mu.Unlock()

	return ScheduleResult{Success: true, ScheduleID: entry.msg.ScheduleID, ScheduledFor: deliverAt}, nil
}

// Cancel implements Scheduler.
func (s *InMemoryScheduler) Cancel(_ context.Context, scheduleID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.byID[scheduleID]
	if !ok || entry.inFlight || entry.msg.Status != Pending {
		return false, nil
	}

	heap.Remove(&s.heap, entry.index)
	entry.msg.Status = Cancelled
	return true, nil
}

// GetScheduled implements Scheduler.
func (s *InMemoryScheduler) GetScheduled(_ context.Context, scheduleID uuid.UUID) (*ScheduledMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.byID[scheduleID]
	if !ok {
		return nil, nil
	}
	copied := entry.msg
	return &copied, nil
}

// GetPending implements Scheduler.
func (s *InMemoryScheduler) GetPending(_ context.Context, query Query) ([]ScheduledMessage, error) {
	s.mu.Lock()
	all := make([]ScheduledMessage, 0, len(s.byID))
	for _, e := range s.byID {
		all = append(all, e.msg)
	}
	s.mu.Unlock()

	filtered := all[:0]
	for _, e := range all {
		if query.Status != nil && e.Status != *query.Status {
			continue
		}
		if query.Destination != "" && e.Destination != query.Destination {
			continue
		}
		if query.MessageType != "" && e.MessageType != query.MessageType {
			continue
		}
		if !query.DeliverAfter.IsZero() && e.DeliverAt.Before(query.DeliverAfter) {
			continue
		}
		if !query.DeliverBefore.IsZero() && e.DeliverAt.After(query.DeliverBefore) {
			continue
		}
		filtered = append(filtered, e)
	}

	sort.Slice(filtered, func(i, j int) bool {
		if !filtered[i].DeliverAt.Equal(filtered[j].DeliverAt) {
			return filtered[i].DeliverAt.Before(filtered[j].DeliverAt)
		}
		return filtered[i].ScheduleID.String() < filtered[j].ScheduleID.String()
	})

	if query.Offset > 0 {
		if query.Offset >= len(filtered) {
			return nil, nil
		}
		filtered = filtered[query.Offset:]
	}
	if query.Limit > 0 && len(filtered) > query.Limit {
		filtered = filtered[:query.Limit]
	}
	return filtered, nil
}

// GetPendingCount implements Scheduler.
func (s *InMemoryScheduler) GetPendingCount(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	for _, e := range s.byID {
		if e.msg.Status == Pending {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryScheduler) run() {
	defer close(s.done)

	for {
		s.mu.Lock()
		if s.ctx.Err() != nil {
			s.mu.Unlock()
			return
		}

		wait := maxDispatcherSleep
		var next *schedEntry
		if len(s.heap) > 0 {
			next = s.heap[0]
			if w := next.msg.DeliverAt.Sub(s.clock.Now()); w < wait {
				wait = w
			}
		}

		if next != nil && wait <= 0 {
			heap.Pop(&s.heap)
			next.inFlight = true
			s.mu.Unlock()
			go s.dispatch(next)
			continue
		}

		waitCtx, cancel := context.WithCancel(s.ctx)
		s.wakeCancel = cancel
		s.mu.Unlock()

		_ = s.clock.Sleep(waitCtx, wait) // woken by: deadline, new earlier entry, or Stop
		cancel()

		s.mu.Lock()
		s.wakeCancel = nil
		s.mu.Unlock()
	}
}

func (s *InMemoryScheduler) dispatch(entry *schedEntry) {
	ctx := s.ctx
	err := s.handler.Deliver(ctx, entry.msg)

	s.mu.Lock()
	if err != nil {
		entry.msg.Status = Failed
	} else {
		entry.msg.Status = Delivered
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("scheduler: delivery failed", logging.Any("scheduleId", entry.msg.ScheduleID), logging.Any("cause", err))
		s.handler.HandleDeliveryFailure(ctx, entry.msg.ScheduleID, err)
		return
	}
	s.logger.Debug("scheduler: delivered", logging.Any("scheduleId", entry.msg.ScheduleID))
}
