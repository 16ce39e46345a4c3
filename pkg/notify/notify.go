// Package notify tells people about task changes in the background, away
// from the request that made the change.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/astromechza/tasklive/pkg/tasks"
)

const (
	DefaultQueueSize   = 128
	DefaultMaxAttempts = 3
)

var ErrQueueClosed = errors.New("notification queue closed")

// Notification describes one change worth telling the assignee about.
type Notification struct {
	Event string
	Task  tasks.Task
}

// Notifier accepts notifications without blocking the caller.
type Notifier interface {
	Notify(n Notification)
}

// Sender delivers a notification through one medium.
type Sender interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

type Options struct {
	Logger    *slog.Logger
	QueueSize int

	// MaxAttempts bounds deliveries per sender, the first try included.
	MaxAttempts int

	// Backoff paces the retries of one sender. Defaults to 4s growing to 10s.
	Backoff func() backoff.BackOff
}

// Queue hands notifications to a single worker that tries every sender in order.
type Queue struct {
	senders     []Sender
	logger      *slog.Logger
	maxAttempts int
	backoff     func() backoff.BackOff

	ctx    context.Context
	cancel context.CancelFunc
	items  chan Notification
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

func defaultBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 4 * time.Second
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func NewQueue(opts Options, senders ...Sender) *Queue {
	q := &Queue{
		senders:     senders,
		logger:      opts.Logger,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
		done:        make(chan struct{}),
	}
	if q.logger == nil {
		q.logger = slog.Default()
	}
	if q.maxAttempts <= 0 {
		q.maxAttempts = DefaultMaxAttempts
	}
	if q.backoff == nil {
		q.backoff = defaultBackoff
	}
	size := opts.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	q.items = make(chan Notification, size)
	q.ctx, q.cancel = context.WithCancel(context.Background())
	go q.run()
	q.logger.Info("notification queue started", "senders", len(senders))
	return q
}

// Notify queues n. When the queue is full or closed the notification is dropped and logged.
func (q *Queue) Notify(n Notification) {
	if err := q.Enqueue(n); err != nil {
		q.logger.Warn("dropping notification", "task", n.Task.ID, "event", n.Event, "err", err)
	}
}

func (q *Queue) Enqueue(n Notification) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.items <- n:
		q.logger.Debug("queued notification", "task", n.Task.ID, "event", n.Event)
		return nil
	default:
		return fmt.Errorf("notification queue is full")
	}
}

// Close stops accepting notifications and waits until the queued ones have
// been handled or ctx is done, whichever comes first.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.items)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		q.cancel()
		<-q.done
		return ctx.Err()
	}
}

func (q *Queue) run() {
	defer close(q.done)
	defer q.cancel()
	for n := range q.items {
		q.logger.Info("processing notification", "task", n.Task.ID, "event", n.Event)
		for _, s := range q.senders {
			if err := q.send(s, n); err != nil {
				q.logger.Error("notification failed", "sender", s.Name(), "task", n.Task.ID, "err", err)
			}
		}
	}
}

func (q *Queue) send(s Sender, n Notification) error {
	b := backoff.WithContext(backoff.WithMaxRetries(q.backoff(), uint64(q.maxAttempts-1)), q.ctx)
	return backoff.RetryNotify(func() error {
		return s.Send(q.ctx, n)
	}, b, func(err error, next time.Duration) {
		q.logger.Warn("notification attempt failed", "sender", s.Name(), "task", n.Task.ID, "err", err, "retry_in", next)
	})
}
