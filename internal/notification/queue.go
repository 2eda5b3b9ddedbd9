package notification

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrQueueFull is returned by Queue.Send when the buffer is full. The alert
// is dropped.
var ErrQueueFull = errors.New("notification: queue full")

// ErrQueueClosed is returned by Queue.Send after Close.
var ErrQueueClosed = errors.New("notification: queue closed")

const (
	DefaultQueueSize   = 64
	DefaultSendTimeout = 10 * time.Second
)

// Queue delivers alerts to the next notifier from a single background
// goroutine. Send never blocks: when the buffer is full the alert is dropped
// so a slow backend cannot hold up the caller.
type Queue struct {
	next    Notifier
	timeout time.Duration
	log     *zap.Logger

	mu     sync.RWMutex
	ch     chan Alert
	closed bool
	done   chan struct{}

	// OnDrop is called for every alert dropped on a full buffer.
	OnDrop func(alert Alert)
}

// NewQueue starts the delivery goroutine. Call Close to drain and stop it.
func NewQueue(next Notifier, size int, timeout time.Duration, log *zap.Logger) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	q := &Queue{
		next:    next,
		timeout: timeout,
		log:     log.Named("notify_queue"),
		ch:      make(chan Alert, size),
		done:    make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *Queue) run() {
	defer close(q.done)
	for alert := range q.ch {
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		if err := q.next.Send(ctx, alert); err != nil {
			q.log.Warn("alert delivery failed", zap.String("title", alert.Title), zap.Error(err))
		}
		cancel()
	}
}

// Send enqueues the alert.
func (q *Queue) Send(_ context.Context, alert Alert) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- alert:
		return nil
	default:
		if q.OnDrop != nil {
			q.OnDrop(alert)
		}
		return errors.Wrapf(ErrQueueFull, "drop %q", alert.Title)
	}
}

// Pending returns the number of alerts waiting for delivery.
func (q *Queue) Pending() int { return len(q.ch) }

// Close stops accepting alerts and waits until the buffered ones are
// delivered or ctx ends.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
