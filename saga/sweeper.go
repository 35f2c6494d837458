package saga

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/heromessaging/heromessaging/clock"
	"github.com/heromessaging/heromessaging/logging"
	"github.com/heromessaging/heromessaging/message"
)

// TimedOutState is the terminal state the Sweeper assigns to a saga it
// deems stale.
const TimedOutState = "TimedOut"

// SweeperOptions configures Sweeper.
type SweeperOptions struct {
	// CheckInterval is how often FindStale is polled. Defaults to 1 minute.
	CheckInterval time.Duration
	// DefaultTimeout is the staleness age passed to FindStale. Defaults to
	// 24 hours.
	DefaultTimeout time.Duration
	// Disabled makes Start a no-op when true. The zero value (false) leaves
	// the sweeper enabled, matching the documented default of Enabled=true.
	Disabled bool
}

func (o SweeperOptions) withDefaults() SweeperOptions {
	if o.CheckInterval <= 0 {
		o.CheckInterval = time.Minute
	}
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = 24 * time.Hour
	}
	return o
}

// Sweeper is the background worker that marks stale (non-completed,
// long-unused) sagas as TimedOut. One Sweeper is intended per saga type.
type Sweeper[S any] struct {
	repo   Repository[S]
	clock  clock.Clock
	logger logging.Logger
	opts   SweeperOptions

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewSweeper constructs a Sweeper. It does not start until Start is called.
func NewSweeper[S any](repo Repository[S], clk clock.Clock, logger logging.Logger, opts SweeperOptions) (*Sweeper[S], error) {
	if repo == nil {
		return nil, fmt.Errorf("saga: %w: Repository must not be nil", message.ErrInvalidInput)
	}
	if clk == nil {
		clk = clock.System()
	}
	if logger == nil {
		logger = logging.Noop()
	}
	return &Sweeper[S]{repo: repo, clock: clk, logger: logger, opts: opts.withDefaults()}, nil
}

// Start launches the background sweep loop. A no-op if Disabled is true or
// Start was already called. Cancellation (via Stop) stops the worker
// promptly.
func (s *Sweeper[S]) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opts.Disabled || s.running {
		return
	}
	s.running = true

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(loopCtx)
}

// Stop cancels the sweep loop and waits for it to exit.
func (s *Sweeper[S]) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Sweeper[S]) run(ctx context.Context) {
	defer close(s.done)

	for {
		if err := s.clock.Sleep(ctx, s.opts.CheckInterval); err != nil {
			return
		}
		s.sweepOnce(ctx)
	}
}

func (s *Sweeper[S]) sweepOnce(ctx context.Context) {
	stale, err := s.repo.FindStale(ctx, s.opts.DefaultTimeout)
	if err != nil {
		s.logger.Warn("saga: sweeper FindStale failed", logging.Any("cause", err))
		return
	}

	for _, inst := range stale {
		inst.CurrentState = TimedOutState
		inst.IsCompleted = true

		err := s.repo.Update(ctx, inst)
		if err == nil {
			s.logger.Info("saga: swept stale instance", logging.Any("correlationId", inst.CorrelationID))
			continue
		}

		var concErr *message.ConcurrencyError
		if errors.As(err, &concErr) {
			continue // another worker won the race
		}
		s.logger.Warn("saga: sweeper Update failed", logging.Any("correlationId", inst.CorrelationID), logging.Any("cause", err))
	}
}
