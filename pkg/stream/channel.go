// Package stream maintains the push subscription to the task server.
//
// A Channel owns exactly one logical subscription. It connects as soon as it
// is created, decodes named messages into change events for a single
// subscriber, and reconnects with backoff whenever the transport fails. It
// only stops when cancelled.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/astromechza/tasklive/pkg/tasks"
)

const (
	DefaultInitialDelay = 5 * time.Second
	DefaultMaxDelay     = time.Minute
	DefaultMultiplier   = 2.0
	DefaultJitter       = 0.2

	historyLimit = 256
)

var (
	ErrAlreadySubscribed = errors.New("channel already has a subscriber")
	ErrCancelled         = errors.New("channel cancelled")
)

// Handler receives decoded change events, one at a time and in arrival order.
type Handler func(ev tasks.ChangeEvent)

type Options struct {
	Dialer Dialer

	// Backoff yields the delay before each reconnect. It is Reset after every
	// successful connect. Defaults to NewBackoff with the Default* values.
	Backoff backoff.BackOff

	Logger *slog.Logger

	// OnTransition is called on the channel goroutine after every state change.
	OnTransition func(Transition)

	// OnDecodeError is called for each malformed message that was dropped.
	OnDecodeError func(err error)

	// After is the timer used for reconnect delays. Defaults to time.After.
	After func(d time.Duration) <-chan time.Time
}

// NewBackoff returns an exponential backoff that never gives up.
func NewBackoff(initial, max time.Duration, multiplier, jitter float64) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = max
	b.Multiplier = multiplier
	b.RandomizationFactor = jitter
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

type Channel struct {
	dialer        Dialer
	backoff       backoff.BackOff
	logger        *slog.Logger
	onTransition  func(Transition)
	onDecodeError func(error)
	after         func(time.Duration) <-chan time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.Mutex
	state      State
	history    []Transition
	handler    Handler
	subscribed chan struct{}
}

// New creates the channel and starts connecting straight away. The channel
// stops when ctx is done or Cancel is called.
func New(ctx context.Context, opts Options) (*Channel, error) {
	if opts.Dialer == nil {
		return nil, fmt.Errorf("a dialer is required")
	}
	c := &Channel{
		dialer:        opts.Dialer,
		backoff:       opts.Backoff,
		logger:        opts.Logger,
		onTransition:  opts.OnTransition,
		onDecodeError: opts.OnDecodeError,
		after:         opts.After,
		done:          make(chan struct{}),
		state:         Disconnected,
		subscribed:    make(chan struct{}),
	}
	if c.backoff == nil {
		c.backoff = NewBackoff(DefaultInitialDelay, DefaultMaxDelay, DefaultMultiplier, DefaultJitter)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.after == nil {
		c.after = time.After
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	go c.run()
	return c, nil
}

// Subscribe registers the single consumer. Events decoded before a consumer
// exists are held back, not dropped.
func (c *Channel) Subscribe(h Handler) (*Subscription, error) {
	if h == nil {
		return nil, fmt.Errorf("a handler is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx.Err() != nil {
		return nil, ErrCancelled
	}
	if c.handler != nil {
		return nil, ErrAlreadySubscribed
	}
	c.handler = h
	close(c.subscribed)
	return &Subscription{channel: c}, nil
}

// Cancel closes the active connection and stops all future reconnects.
// It does not wait: when called from another goroutine a handler call may
// still be running or about to start until Done is closed. Called from within
// the handler, no further handler call follows.
func (c *Channel) Cancel() {
	c.cancel()
}

// Done is closed once the channel has stopped. No handler call starts after that.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

func (c *Channel) Wait() {
	<-c.done
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Transitions returns the most recent state changes, oldest first.
func (c *Channel) Transitions() []Transition {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Transition, len(c.history))
	copy(out, c.history)
	return out
}

func (c *Channel) run() {
	defer close(c.done)
	defer c.transition(Cancelled, nil, 0)

	for {
		if !c.transition(Connecting, nil, 0) {
			return
		}
		err := c.connectAndConsume()
		if c.ctx.Err() != nil {
			return
		}

		delay := c.backoff.NextBackOff()
		if delay == backoff.Stop {
			delay = DefaultMaxDelay
		}
		c.transition(AwaitingRetry, err, delay)
		c.logger.Warn("push connection lost", "err", err, "retry_in", delay)

		select {
		case <-c.after(delay):
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Channel) connectAndConsume() error {
	conn, err := c.dialer.Dial(c.ctx)
	if err != nil {
		return asTransportError("dial", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(c.ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	c.backoff.Reset()
	c.transition(Connected, nil, 0)
	c.logger.Info("push connection established")

	for {
		msg, err := conn.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = errors.New("server closed the stream")
			}
			return asTransportError("read", err)
		}

		ev, err := tasks.Decode(msg.Name, msg.Data)
		if errors.Is(err, tasks.ErrUnknownMessage) {
			c.logger.Debug("ignoring message", "name", msg.Name)
			continue
		} else if err != nil {
			c.logger.Warn("dropping malformed message", "name", msg.Name, "err", err)
			if c.onDecodeError != nil {
				c.onDecodeError(err)
			}
			continue
		}

		if !c.deliver(ev) {
			return c.ctx.Err()
		}
	}
}

func (c *Channel) deliver(ev tasks.ChangeEvent) bool {
	select {
	case <-c.subscribed:
	case <-c.ctx.Done():
		return false
	}
	if c.ctx.Err() != nil {
		return false
	}
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	h(ev)
	return true
}

func (c *Channel) transition(to State, err error, delay time.Duration) bool {
	c.mu.Lock()
	from := c.state
	if !CanTransition(from, to) {
		c.mu.Unlock()
		if from != Cancelled {
			c.logger.Error("rejected state transition", "from", from, "to", to)
		}
		return false
	}
	t := Transition{From: from, To: to, At: time.Now(), Err: err, Delay: delay}
	c.state = to
	c.history = append(c.history, t)
	if len(c.history) > historyLimit {
		c.history = c.history[len(c.history)-historyLimit:]
	}
	c.mu.Unlock()

	c.logger.Debug("push channel state", "from", from, "to", to)
	if c.onTransition != nil {
		c.onTransition(t)
	}
	return true
}

func asTransportError(op string, err error) error {
	var te *tasks.TransportError
	if errors.As(err, &te) {
		return err
	}
	return &tasks.TransportError{Op: op, Err: err}
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	channel *Channel
}

// Cancel stops the underlying channel for good. See Channel.Cancel for
// when handler calls stop.
func (s *Subscription) Cancel() {
	s.channel.Cancel()
}
