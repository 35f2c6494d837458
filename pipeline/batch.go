package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/heromessaging/heromessaging/clock"
	"github.com/heromessaging/heromessaging/logging"
	"github.com/heromessaging/heromessaging/message"
)

// BatchOptions configures a Batch decorator.
type BatchOptions struct {
	// Enabled, if false, makes Batch a pure pass-through: every call
	// invokes Inner exactly once and returns its result verbatim.
	Enabled bool
	// MinBatchSize is the smallest accumulation flushed as a batch; fewer
	// pending messages are flushed as individual Inner calls instead.
	MinBatchSize int
	// MaxBatchSize triggers an immediate flush once reached. Must be > 0
	// when Enabled.
	MaxBatchSize int
	// BatchTimeout triggers a flush this long after the first message in
	// a batch was enqueued, regardless of size.
	BatchTimeout time.Duration
	// MaxDegreeOfParallelism caps concurrently in-flight batch
	// invocations. Zero or negative means unbounded.
	MaxDegreeOfParallelism int
	// ContinueOnFailure applies when a batch is processed one message at a
	// time (below MinBatchSize, or on fallback). If true, every message is
	// processed regardless of earlier failures; if false, the messages after
	// the first failure are not processed and each receives a Failure
	// result.
	ContinueOnFailure bool
	// FallbackToIndividualProcessing, if true, retries every message in a
	// batch one-at-a-time through Inner when the batch invocation itself
	// fails (as opposed to an individual message within it failing).
	FallbackToIndividualProcessing bool
	Clock                          clock.Clock
	Logger                         logging.Logger
}

// BatchInner processes a batch of messages at once, assigning each message
// its own outcome via results[i] for msgs[i]. Returning a non-nil error
// signals the batch invocation itself failed (as distinct from an
// individual message failing), triggering FallbackToIndividualProcessing
// when enabled.
type BatchInner func(ctx context.Context, msgs []*message.Message, pctxs []message.ProcessingContext) ([]message.Result, error)

// Batch accumulates concurrent Process calls into batches, dispatched to a
// BatchInner, while giving each caller back a future resolving to that
// message's own result.
//
// Grounded directly on microbatch.Batcher's ping/pong channel protocol: a
// single owning goroutine (run) receives jobs over jobCh and immediately
// replies over batchCh with the *current* pending batch, so the caller can
// await that batch's completion without the owning goroutine blocking on
// anything but channel operations. Flush triggers are batch-size,
// a per-batch timer goroutine for BatchTimeout, and shutdown.
type Batch struct {
	inner  BatchInner
	opts   BatchOptions
	clock  clock.Clock
	logger logging.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once

	jobCh   chan *batchJob
	batchCh chan *batchState
	state   *batchState
}

type batchJob struct {
	ctx  context.Context
	msg  *message.Message
	pctx message.ProcessingContext
}

type batchState struct {
	jobs    []*batchJob
	results []message.Result
	err     error
	done    chan struct{}
}

func newBatchState() *batchState {
	return &batchState{done: make(chan struct{})}
}

// NewBatch constructs a Batch decorator. When opts.Enabled is false, the
// returned value is a pass-through and no background goroutine is started.
// Fails fast when opts.Enabled and MaxBatchSize <= 0, or when inner is nil.
func NewBatch(inner BatchInner, opts BatchOptions) (*Batch, error) {
	if inner == nil {
		return nil, fmt.Errorf("pipeline: %w: Batch requires a non-nil BatchInner", message.ErrInvalidInput)
	}
	if opts.Enabled && opts.MaxBatchSize <= 0 {
		return nil, fmt.Errorf("pipeline: %w: MaxBatchSize must be > 0 when batching is enabled", message.ErrInvalidInput)
	}
	if opts.Enabled && opts.MinBatchSize > opts.MaxBatchSize {
		return nil, fmt.Errorf("pipeline: %w: MinBatchSize must not exceed MaxBatchSize", message.ErrInvalidInput)
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.System()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Noop()
	}

	b := &Batch{
		inner:   inner,
		opts:    opts,
		clock:   clk,
		logger:  logger,
		state:   newBatchState(),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		jobCh:   make(chan *batchJob),
		batchCh: make(chan *batchState),
	}

	if !opts.Enabled {
		return b, nil
	}

	b.ctx, b.cancel = context.WithCancel(context.Background())
	logger.Info("BatchDecorator initialized", logging.Int("maxBatchSize", opts.MaxBatchSize), logging.Int("minBatchSize", opts.MinBatchSize))
	go b.run()

	return b, nil
}

// Process implements Processor (via a wrapping ProcessorFunc — see AsProcessor).
func (b *Batch) Process(ctx context.Context, msg *message.Message, pctx message.ProcessingContext) (message.Result, error) {
	if !b.opts.Enabled {
		results, err := b.inner(ctx, []*message.Message{msg}, []message.ProcessingContext{pctx})
		if err != nil {
			return message.Result{}, err
		}
		return results[0], nil
	}

	job := &batchJob{ctx: ctx, msg: msg, pctx: pctx}

	select {
	case <-ctx.Done():
		return message.Result{}, ctx.Err()
	case <-b.ctx.Done():
		return message.Result{}, b.ctx.Err()
	case <-b.stopped:
		return message.Result{}, context.Canceled
	case b.jobCh <- job: // ping
		state := <-b.batchCh // pong
		return b.await(ctx, job, state)
	}
}

// AsProcessor adapts Batch to Processor.
func (b *Batch) AsProcessor() Processor {
	return ProcessorFunc(b.Process)
}

func (b *Batch) await(ctx context.Context, job *batchJob, state *batchState) (message.Result, error) {
	select {
	case <-ctx.Done():
		return message.Result{}, ctx.Err()
	case <-state.done:
		if state.err != nil {
			return message.Result{}, state.err
		}
		for i, j := range state.jobs {
			if j == job {
				return state.results[i], nil
			}
		}
		return message.Result{}, fmt.Errorf("pipeline: internal error: job not found in completed batch")
	}
}

// Shutdown stops accepting new jobs, flushes any in-flight batch so pending
// callers do not hang, and waits for completion.
func (b *Batch) Shutdown(ctx context.Context) error {
	if !b.opts.Enabled {
		return nil
	}

	b.stopOnce.Do(func() { close(b.stopped) })

	select {
	case <-ctx.Done():
		b.cancel()
		<-b.done
		return ctx.Err()
	case <-b.done:
		return nil
	}
}

func (b *Batch) run() {
	defer close(b.done)
	defer b.cancel()

	var wg sync.WaitGroup
	wg.Add(1)

	var runningCh chan struct{}
	if b.opts.MaxDegreeOfParallelism > 0 {
		runningCh = make(chan struct{}, b.opts.MaxDegreeOfParallelism)
	}

	runBatch := func() {
		if len(b.state.jobs) == 0 {
			return
		}

		state := b.state
		b.state = newBatchState()

		wg.Add(1)
		if runningCh != nil {
			runningCh <- struct{}{}
		}
		go func() {
			defer func() {
				if runningCh != nil {
					<-runningCh
				}
				wg.Done()
			}()
			b.runBatch(state)
		}()
	}

	var wait func()
	wait = func() {
		wait = nil
		runBatch()
		wg.Done()
		wg.Wait()
	}

	defer func() {
		b.cancel()
		if wait != nil {
			wait()
		}
	}()

	flushCh := make(chan *batchState)

	for {
		select {
		case <-b.ctx.Done():
			return

		case <-b.stopped:
			wait()
			return

		case job := <-b.jobCh: // ping
			b.batchCh <- b.state // pong

			b.state.jobs = append(b.state.jobs, job)

			if len(b.state.jobs) >= b.opts.MaxBatchSize {
				runBatch()
			} else if b.opts.BatchTimeout > 0 && len(b.state.jobs) == 1 {
				state := b.state
				go b.scheduleFlush(state, flushCh)
			}

		case state := <-flushCh:
			if state == b.state {
				runBatch()
			}
		}
	}
}

// scheduleFlush sleeps for BatchTimeout (via the injected clock, so tests
// can drive it deterministically), then offers state on flushCh — unless
// the batch was already flushed, the decorator was stopped, or it was torn
// down first. Grounded on microbatch's per-batch timer goroutine, with the
// timer itself replaced by a cancellable clock.Clock.Sleep.
func (b *Batch) scheduleFlush(state *batchState, flushCh chan<- *batchState) {
	ctx, cancel := context.WithCancel(b.ctx)
	defer cancel()

	go func() {
		select {
		case <-b.stopped:
			cancel()
		case <-state.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := b.clock.Sleep(ctx, b.opts.BatchTimeout); err != nil {
		// woken early by stop/flush/teardown rather than timeout elapsing
		return
	}

	select {
	case <-b.ctx.Done():
	case <-b.stopped:
	case <-state.done:
	case flushCh <- state:
	}
}

func (b *Batch) runBatch(state *batchState) {
	defer close(state.done)

	if len(state.jobs) < b.opts.MinBatchSize {
		b.runIndividually(state)
		return
	}

	msgs := make([]*message.Message, len(state.jobs))
	pctxs := make([]message.ProcessingContext, len(state.jobs))
	for i, j := range state.jobs {
		msgs[i] = j.msg
		pctxs[i] = j.pctx
	}

	results, err := b.inner(b.ctx, msgs, pctxs)
	if err != nil {
		if b.opts.FallbackToIndividualProcessing {
			b.logger.Warn("pipeline: batch invocation failed, falling back to individual processing", logging.Any("cause", err))
			b.runIndividually(state)
			return
		}
		state.err = err
		return
	}

	state.results = results
}

func (b *Batch) runIndividually(state *batchState) {
	results := make([]message.Result, len(state.jobs))
	for i, j := range state.jobs {
		r, err := b.inner(j.ctx, []*message.Message{j.msg}, []message.ProcessingContext{j.pctx})
		switch {
		case err != nil:
			results[i] = message.Failure(err, j.msg)
		default:
			results[i] = r[0]
		}
		if results[i].IsFailure() && !b.opts.ContinueOnFailure {
			for k := i + 1; k < len(state.jobs); k++ {
				results[k] = message.Failure(fmt.Errorf("pipeline: skipped: preceding message in batch failed and ContinueOnFailure is false"), state.jobs[k].msg)
			}
			break
		}
	}
	state.results = results
}
