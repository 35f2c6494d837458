package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/heromessaging/heromessaging/clock"
	"github.com/heromessaging/heromessaging/logging"
	"github.com/heromessaging/heromessaging/message"
)

// Behavior selects what a Limiter does when a bucket lacks enough tokens to
// satisfy an Acquire call.
type Behavior int

const (
	// Reject fails Acquire immediately, returning RetryAfter as a hint.
	Reject Behavior = iota
	// Queue sleeps (via the injected clock) until enough tokens have
	// refilled, or the context is cancelled. When the computed wait exceeds
	// MaxQueueWait, Acquire does not sleep and returns not-allowed at once.
	Queue
)

// Options configures a Limiter. See the package doc for the
// token-bucket algorithm.
type Options struct {
	// Capacity is the bucket's maximum token count. Must be >= 1.
	Capacity float64
	// RefillRate is tokens added per second of elapsed wall-clock time.
	// Must be > 0.
	RefillRate float64
	// Behavior selects the missing-tokens policy. Zero value is Reject.
	Behavior Behavior
	// MaxQueueWait is the longest single wait a Queue-behavior Acquire will
	// sleep for; a larger computed wait is refused immediately. Ignored when
	// Behavior is Reject.
	MaxQueueWait time.Duration
	// EnableScoping, if true, gives each distinct key its own bucket; a
	// nil key always shares the global bucket. If false, every Acquire
	// call — regardless of key — shares a single global bucket.
	EnableScoping bool
	// MaxScopedKeys caps the number of distinct per-key buckets retained
	// at once; least-recently-used buckets are evicted past this cap.
	// Zero or negative means unbounded (subject to idle cleanup).
	MaxScopedKeys int
	// Clock is the time source used for refill math and Queue sleeps.
	// Defaults to clock.System().
	Clock clock.Clock
	// Logger receives diagnostic events. Defaults to logging.Noop().
	Logger logging.Logger
}

// Result is the outcome of an Acquire call.
type Result struct {
	Allowed          bool
	RemainingPermits float64
	RetryAfter       time.Duration
	ReasonPhrase     string
}

// Stats reports a single bucket's cumulative counters.
type Stats struct {
	AvailablePermits float64
	Capacity         float64
	RefillRate       float64
	TotalAcquired    uint64
	TotalThrottled   uint64
	ThrottleRate     float64
}

// Limiter is a token-bucket rate limiter, optionally scoped per key.
//
// Grounded on catrate.Limiter's concurrency shape: a sync.Map of per-key
// state guarded by per-bucket mutexes, plus a lazily-started background
// worker that reaps idle per-key buckets when MaxScopedKeys is unbounded.
// The per-bucket algorithm itself
// is continuous token-bucket refill rather than catrate's sliding window.
type Limiter struct {
	opts     Options
	clock    clock.Clock
	logger   logging.Logger
	disposed int32

	global *bucket

	// unbounded is used when EnableScoping is true and MaxScopedKeys <= 0:
	// an idle-reaped sync.Map, matching catrate's own cleanup shape.
	unbounded  sync.Map // key any -> *bucket
	running    int32
	retention  time.Duration

	// bounded is used when EnableScoping is true and MaxScopedKeys > 0.
	bounded *lru.Cache[any, *bucket]
}

type bucket struct {
	mu             sync.Mutex
	tokens         float64
	lastRefill     time.Time
	totalAcquired  uint64
	totalThrottled uint64
	lastAccess     int64 // unix nano, atomic
}

// New constructs a Limiter. It fails fast on invalid Options.
func New(opts Options) (*Limiter, error) {
	if opts.Capacity < 1 {
		return nil, fmt.Errorf("ratelimit: %w: capacity must be >= 1, got %v", message.ErrInvalidInput, opts.Capacity)
	}
	if opts.RefillRate <= 0 {
		return nil, fmt.Errorf("ratelimit: %w: refill rate must be > 0, got %v", message.ErrInvalidInput, opts.RefillRate)
	}
	if opts.Behavior == Queue && opts.MaxQueueWait <= 0 {
		return nil, fmt.Errorf("ratelimit: %w: queue behavior requires a positive MaxQueueWait", message.ErrInvalidInput)
	}

	c := opts.Clock
	if c == nil {
		c = clock.System()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Noop()
	}

	l := &Limiter{
		opts:      opts,
		clock:     c,
		logger:    logger,
		retention: idleRetention(opts.RefillRate, opts.Capacity),
	}

	l.global = newBucket(opts.Capacity, c.Now())
	if !opts.EnableScoping {
		return l, nil
	}

	if opts.MaxScopedKeys > 0 {
		cache, err := lru.New[any, *bucket](opts.MaxScopedKeys)
		if err != nil {
			return nil, fmt.Errorf("ratelimit: constructing scoped cache: %w", err)
		}
		l.bounded = cache
	}

	return l, nil
}

func idleRetention(refillRate, capacity float64) time.Duration {
	// a bucket is eligible for reaping once it could have refilled from
	// empty back to full and then some, i.e. it has been untouched for
	// well longer than it takes to matter.
	seconds := capacity / refillRate
	d := time.Duration(seconds*4) * time.Second
	if d < time.Minute {
		d = time.Minute
	}
	return d
}

func newBucket(capacity float64, now time.Time) *bucket {
	return &bucket{tokens: capacity, lastRefill: now, lastAccess: now.UnixNano()}
}

// Acquire attempts to reserve permits (>= 1) from the bucket identified by
// key (ignored unless EnableScoping is true). It blocks only when Behavior
// is Queue and tokens are unavailable; Reject returns immediately.
func (l *Limiter) Acquire(ctx context.Context, permits float64, key any) (Result, error) {
	if atomic.LoadInt32(&l.disposed) != 0 {
		return Result{}, fmt.Errorf("ratelimit: %w", message.ErrDisposed)
	}
	if permits < 1 {
		return Result{}, fmt.Errorf("ratelimit: %w: permits must be >= 1, got %v", message.ErrInvalidInput, permits)
	}

	b := l.bucketFor(key)

	for {
		result, wait, ok := l.tryAcquire(b, permits)
		if ok {
			return result, nil
		}
		if l.opts.Behavior == Reject || wait > l.opts.MaxQueueWait {
			return result, nil
		}

		l.logger.Debug("ratelimit: queueing acquire", logging.Any("wait", wait))
		if err := l.clock.Sleep(ctx, wait); err != nil {
			return Result{}, fmt.Errorf("ratelimit: %w: %w", message.ErrCancelled, err)
		}
	}
}

// tryAcquire performs a single non-blocking attempt. ok is true when permits
// were granted; otherwise wait is how long the caller should sleep before
// retrying.
func (l *Limiter) tryAcquire(b *bucket, permits float64) (result Result, wait time.Duration, ok bool) {
	now := l.clock.Now()
	atomic.StoreInt64(&b.lastAccess, now.UnixNano())

	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens = minFloat(l.opts.Capacity, b.tokens+elapsed*l.opts.RefillRate)
		b.lastRefill = now
	}

	if b.tokens >= permits {
		b.tokens -= permits
		b.totalAcquired++
		return Result{Allowed: true, RemainingPermits: b.tokens}, 0, true
	}

	b.totalThrottled++
	deficit := permits - b.tokens
	wait = time.Duration(deficit / l.opts.RefillRate * float64(time.Second))

	reason := "Rate limit exceeded"
	if l.opts.Behavior == Queue && wait > l.opts.MaxQueueWait {
		reason = "max queue wait exceeded"
	}

	return Result{
		Allowed:          false,
		RemainingPermits: b.tokens,
		RetryAfter:       wait,
		ReasonPhrase:     reason,
	}, wait, false
}

func (l *Limiter) bucketFor(key any) *bucket {
	if !l.opts.EnableScoping || key == nil {
		return l.global
	}

	if l.bounded != nil {
		if b, ok := l.bounded.Get(key); ok {
			return b
		}
		candidate := newBucket(l.opts.Capacity, l.clock.Now())
		if previous, found, _ := l.bounded.PeekOrAdd(key, candidate); found {
			return previous
		}
		return candidate
	}

	l.startCleanupWorker()

	value, loaded := l.unbounded.LoadOrStore(key, newBucket(l.opts.Capacity, l.clock.Now()))
	b := value.(*bucket)
	if loaded {
		return b
	}
	return b
}

// startCleanupWorker lazily starts the idle-bucket reaper, matching
// catrate's atomic-CAS "start once" pattern. There is no explicit stop: the
// worker exits on its own once it observes an empty map with no chance of
// new entries arriving mid-sweep, and Dispose stops routing new Acquire
// calls to it regardless.
func (l *Limiter) startCleanupWorker() {
	if !atomic.CompareAndSwapInt32(&l.running, 0, 1) {
		return
	}
	go l.cleanupLoop()
}

func (l *Limiter) cleanupLoop() {
	for l.clock.Sleep(context.Background(), l.retention/2) == nil {
		if atomic.LoadInt32(&l.disposed) != 0 {
			atomic.StoreInt32(&l.running, 0)
			return
		}

		threshold := l.clock.Now().Add(-l.retention).UnixNano()
		empty := true
		l.unbounded.Range(func(key, value any) bool {
			b := value.(*bucket)
			if atomic.LoadInt64(&b.lastAccess) < threshold {
				l.unbounded.Delete(key)
			} else {
				empty = false
			}
			return true
		})

		if empty {
			atomic.StoreInt32(&l.running, 0)
			return
		}
	}
}

// Stats reports the current counters for the bucket identified by key
// (ignored unless EnableScoping is true). A key with no prior Acquire calls
// reports a fresh, full bucket.
func (l *Limiter) Stats(key any) Stats {
	b := l.peekBucket(key)
	if b == nil {
		return Stats{AvailablePermits: l.opts.Capacity, Capacity: l.opts.Capacity, RefillRate: l.opts.RefillRate}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	total := b.totalAcquired + b.totalThrottled
	var throttleRate float64
	if total > 0 {
		throttleRate = float64(b.totalThrottled) / float64(total)
	}

	return Stats{
		AvailablePermits: b.tokens,
		Capacity:         l.opts.Capacity,
		RefillRate:       l.opts.RefillRate,
		TotalAcquired:    b.totalAcquired,
		TotalThrottled:   b.totalThrottled,
		ThrottleRate:     throttleRate,
	}
}

func (l *Limiter) peekBucket(key any) *bucket {
	if !l.opts.EnableScoping || key == nil {
		return l.global
	}
	if l.bounded != nil {
		b, _ := l.bounded.Get(key)
		return b
	}
	value, ok := l.unbounded.Load(key)
	if !ok {
		return nil
	}
	return value.(*bucket)
}

// Dispose marks the Limiter as no longer usable. Further Acquire calls fail
// with message.ErrDisposed.
func (l *Limiter) Dispose() {
	atomic.StoreInt32(&l.disposed, 1)
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
