package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/heromessaging/heromessaging/clock"
	"github.com/heromessaging/heromessaging/logging"
	"github.com/heromessaging/heromessaging/message"
)

// StorageBackedOptions configures StorageBackedScheduler.
type StorageBackedOptions struct {
	// PollingInterval is how often the dispatcher asks Storage for due
	// entries. Required, must be > 0.
	PollingInterval time.Duration
	// BatchSize caps how many due entries are fetched per poll. Zero means
	// unbounded.
	BatchSize int
	// MaxConcurrency bounds how many deliveries run concurrently. Zero
	// means unbounded.
	MaxConcurrency int
	// AutoCleanup, when true, periodically purges resolved entries older
	// than CleanupRetention.
	AutoCleanup      bool
	CleanupRetention time.Duration
	// CleanupInterval is how often AutoCleanup runs. Defaults to 10x
	// PollingInterval if zero.
	CleanupInterval time.Duration
}

// StorageBackedScheduler dispatches scheduled messages by polling a Storage
// implementation on a fixed interval, so that scheduled state survives
// process restarts (unlike InMemoryScheduler). Grounded on longpoll's
// cancellation-first select idiom for its stop path, and on go-utilpkg's
// semaphore-channel shape for MaxConcurrency.
type StorageBackedScheduler struct {
	storage Storage
	handler DeliveryHandler
	clock   clock.Clock
	logger  logging.Logger
	opts    StorageBackedOptions

	sem chan struct{} // nil when MaxConcurrency <= 0

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}
}

// NewStorageBackedScheduler constructs and starts a StorageBackedScheduler.
func NewStorageBackedScheduler(storage Storage, handler DeliveryHandler, opts StorageBackedOptions, clk clock.Clock, logger logging.Logger) (*StorageBackedScheduler, error) {
	if storage == nil {
		return nil, fmt.Errorf("scheduler: %w: Storage must not be nil", message.ErrInvalidInput)
	}
	if handler == nil {
		return nil, fmt.Errorf("scheduler: %w: DeliveryHandler must not be nil", message.ErrInvalidInput)
	}
	if opts.PollingInterval <= 0 {
		return nil, fmt.Errorf("scheduler: %w: PollingInterval must be > 0", message.ErrInvalidInput)
	}
	if opts.AutoCleanup && opts.CleanupInterval <= 0 {
		opts.CleanupInterval = opts.PollingInterval * 10
	}
	if clk == nil {
		clk = clock.System()
	}
	if logger == nil {
		logger = logging.Noop()
	}

	s := &StorageBackedScheduler{
		storage: storage,
		handler: handler,
		clock:   clk,
		logger:  logger,
		opts:    opts,
		done:    make(chan struct{}),
	}
	if opts.MaxConcurrency > 0 {
		s.sem = make(chan struct{}, opts.MaxConcurrency)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(1)
	go s.pollLoop()
	if opts.AutoCleanup {
		s.wg.Add(1)
		go s.cleanupLoop()
	}
	go func() {
		s.wg.Wait()
		close(s.done)
	}()

	return s, nil
}

// Stop shuts the dispatcher and cleanup loop down, waiting for in-flight
// polling/cleanup iterations to return; a polling iteration returns only
// after the deliveries it started have finished.
func (s *StorageBackedScheduler) Stop() {
	s.cancel()
	<-s.done
}

// Schedule implements Scheduler.
func (s *StorageBackedScheduler) Schedule(ctx context.Context, msg *message.Message, delay time.Duration, opts ScheduleOptions) (ScheduleResult, error) {
	if err := validateDelay(delay); err != nil {
		return ScheduleResult{}, err
	}
	return s.ScheduleAt(ctx, msg, s.clock.Now().Add(delay), opts)
}

// ScheduleAt implements Scheduler.
func (s *StorageBackedScheduler) ScheduleAt(ctx context.Context, msg *message.Message, deliverAt time.Time, opts ScheduleOptions) (ScheduleResult, error) {
	now := s.clock.Now()
	if err := validateSchedule(msg, deliverAt, now); err != nil {
		return ScheduleResult{}, err
	}

	entry := ScheduledMessage{
		ScheduleID:  uuid.New(),
		Message:     msg,
		DeliverAt:   deliverAt,
		Priority:    opts.Priority,
		Destination: opts.Destination,
		MessageType: opts.MessageType,
		Status:      Pending,
		CreatedAt:   now,
	}

	if err := s.storage.Add(ctx, entry); err != nil {
		return ScheduleResult{Success: false, ErrorMessage: err.Error()}, nil
	}
	return ScheduleResult{Success: true, ScheduleID: entry.ScheduleID, ScheduledFor: deliverAt}, nil
}

// Cancel implements Scheduler.
func (s *StorageBackedScheduler) Cancel(ctx context.Context, scheduleID uuid.UUID) (bool, error) {
	return s.storage.Cancel(ctx, scheduleID)
}

// GetScheduled implements Scheduler.
func (s *StorageBackedScheduler) GetScheduled(ctx context.Context, scheduleID uuid.UUID) (*ScheduledMessage, error) {
	return s.storage.Get(ctx, scheduleID)
}

// GetPending implements Scheduler.
func (s *StorageBackedScheduler) GetPending(ctx context.Context, query Query) ([]ScheduledMessage, error) {
	return s.storage.Query(ctx, query)
}

// GetPendingCount implements Scheduler.
func (s *StorageBackedScheduler) GetPendingCount(ctx context.Context) (int, error) {
	return s.storage.GetPendingCount(ctx)
}

func (s *StorageBackedScheduler) pollLoop() {
	defer s.wg.Done()

	for {
		if err := s.clock.Sleep(s.ctx, s.opts.PollingInterval); err != nil {
			return
		}
		s.pollOnce()
	}
}

func (s *StorageBackedScheduler) pollOnce() {
	due, err := s.storage.GetDue(s.ctx, s.clock.Now(), s.opts.BatchSize)
	if err != nil {
		s.logger.Warn("scheduler: GetDue failed", logging.Any("cause", err))
		return
	}

	var wg sync.WaitGroup
	for _, entry := range due {
		entry := entry
		if s.sem != nil {
			select {
			case s.sem <- struct{}{}:
			case <-s.ctx.Done():
				return
			}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.sem != nil {
				defer func() { <-s.sem }()
			}
			s.dispatch(entry)
		}()
	}
	wg.Wait()
}

func (s *StorageBackedScheduler) dispatch(entry ScheduledMessage) {
	err := s.handler.Deliver(s.ctx, entry)
	if err != nil {
		if _, markErr := s.storage.MarkFailed(s.ctx, entry.ScheduleID, err.Error()); markErr != nil {
			s.logger.Warn("scheduler: MarkFailed failed", logging.Any("scheduleId", entry.ScheduleID), logging.Any("cause", markErr))
		}
		s.logger.Warn("scheduler: delivery failed", logging.Any("scheduleId", entry.ScheduleID), logging.Any("cause", err))
		s.handler.HandleDeliveryFailure(s.ctx, entry.ScheduleID, err)
		return
	}

	if _, markErr := s.storage.MarkDelivered(s.ctx, entry.ScheduleID); markErr != nil {
		s.logger.Warn("scheduler: MarkDelivered failed", logging.Any("scheduleId", entry.ScheduleID), logging.Any("cause", markErr))
	}
	s.logger.Debug("scheduler: delivered", logging.Any("scheduleId", entry.ScheduleID))
}

func (s *StorageBackedScheduler) cleanupLoop() {
	defer s.wg.Done()

	for {
		if err := s.clock.Sleep(s.ctx, s.opts.CleanupInterval); err != nil {
			return
		}
		cutoff := s.clock.Now().Add(-s.opts.CleanupRetention)
		removed, err := s.storage.Cleanup(s.ctx, cutoff)
		if err != nil {
			s.logger.Warn("scheduler: Cleanup failed", logging.Any("cause", err))
			continue
		}
		if removed > 0 {
			s.logger.Debug("scheduler: cleanup removed resolved entries", logging.Int("count", removed))
		}
	}
}
