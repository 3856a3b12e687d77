// Package events carries engine events from the compute path to consumers.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/signalsfoundry/geotrack/internal/logging"
	"github.com/signalsfoundry/geotrack/model"
)

// Policy selects what Publish does when the queue is full.
type Policy string

const (
	// PolicyDropOldest evicts the oldest queued event to make room.
	PolicyDropOldest Policy = "drop_oldest"
	// PolicyBlock waits up to BlockTimeout for room, then drops the new
	// event. The timeout bounds a whole Publish call, not each event in it.
	PolicyBlock Policy = "block"
)

const (
	DefaultQueueSize    = 1024
	DefaultBlockTimeout = 100 * time.Millisecond
)

// ErrQueueClosed is returned when publishing to a closed queue.
var ErrQueueClosed = errors.New("event queue closed")

// QueueConfig sizes a Queue.
type QueueConfig struct {
	Size         int
	Policy       Policy
	BlockTimeout time.Duration
}

// Valid reports whether the policy is known.
func (p Policy) Valid() bool {
	return p == PolicyDropOldest || p == PolicyBlock
}

// QueueOption customises a Queue.
type QueueOption func(*Queue)

// WithLogger sets the logger used for drop warnings.
func WithLogger(l logging.Logger) QueueOption {
	return func(q *Queue) {
		q.log = logging.OrNoop(l)
	}
}

// WithDropHook registers a callback invoked for every dropped event.
func WithDropHook(fn func(model.Event)) QueueOption {
	return func(q *Queue) {
		q.onDrop = fn
	}
}

// WithWarnLimit bounds how often drop warnings are logged.
func WithWarnLimit(every time.Duration) QueueOption {
	return func(q *Queue) {
		q.warn = rate.NewLimiter(rate.Every(every), 1)
	}
}

// Queue is a bounded FIFO of events. Publishers never block longer than the
// configured timeout; the consumer reads from C.
type Queue struct {
	mu     sync.Mutex
	ch     chan model.Event
	closed bool

	cfg     QueueConfig
	dropped atomic.Uint64
	onDrop  func(model.Event)
	warn    *rate.Limiter
	log     logging.Logger
}

// NewQueue constructs a queue. Zero values in cfg fall back to defaults.
func NewQueue(cfg QueueConfig, opts ...QueueOption) (*Queue, error) {
	if cfg.Size <= 0 {
		cfg.Size = DefaultQueueSize
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyDropOldest
	}
	if !cfg.Policy.Valid() {
		return nil, fmt.Errorf("%w: unknown backpressure policy %q", model.ErrInvalidArgument, cfg.Policy)
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = DefaultBlockTimeout
	}
	q := &Queue{
		ch:   make(chan model.Event, cfg.Size),
		cfg:  cfg,
		warn: rate.NewLimiter(rate.Every(time.Second), 1),
		log:  logging.Noop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}
	return q, nil
}

// C returns the receive side of the queue. It is closed by Close.
func (q *Queue) C() <-chan model.Event {
	return q.ch
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Dropped returns the number of events dropped so far.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// Publish enqueues events in order according to the queue policy. Dropped
// events are counted and reported through the drop hook rather than
// returned as errors.
func (q *Queue) Publish(ctx context.Context, evs ...model.Event) error {
	if len(evs) == 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	deadline := time.Now().Add(q.cfg.BlockTimeout)
	for _, ev := range evs {
		var err error
		switch q.cfg.Policy {
		case PolicyBlock:
			err = q.publishBlocking(ctx, ev, deadline)
		default:
			q.publishDropOldest(ctx, ev)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (q *Queue) publishDropOldest(ctx context.Context, ev model.Event) {
	select {
	case q.ch <- ev:
		return
	default:
	}
	// Publishers are serialised by mu; only the consumer can race us here.
	select {
	case old := <-q.ch:
		q.drop(ctx, old, "queue full, dropped oldest event")
	default:
	}
	select {
	case q.ch <- ev:
	default:
		q.drop(ctx, ev, "queue full, dropped event")
	}
}

func (q *Queue) publishBlocking(ctx context.Context, ev model.Event, deadline time.Time) error {
	select {
	case q.ch <- ev:
		return nil
	default:
	}
	wait := time.Until(deadline)
	if wait <= 0 {
		q.drop(ctx, ev, "queue full after block timeout, dropped event")
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case q.ch <- ev:
		return nil
	case <-timer.C:
		q.drop(ctx, ev, "queue full after block timeout, dropped event")
		return nil
	case <-ctx.Done():
		q.drop(ctx, ev, "publish cancelled, dropped event")
		return ctx.Err()
	}
}

func (q *Queue) drop(ctx context.Context, ev model.Event, msg string) {
	total := q.dropped.Add(1)
	if q.onDrop != nil {
		q.onDrop(ev)
	}
	if q.warn.Allow() {
		q.log.Warn(ctx, msg,
			logging.String("event_kind", string(ev.Kind())),
			logging.String("target_id", ev.TargetID),
			logging.Any("dropped_total", total),
		)
	}
}

// Close stops accepting events and closes C. Events already queued stay
// readable until drained. Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}
