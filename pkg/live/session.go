// Package live keeps a local task collection in step with the server for as
// long as a Session is open, and routes user actions through the REST API.
package live

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/astromechza/tasklive/pkg/reconcile"
	"github.com/astromechza/tasklive/pkg/stream"
	"github.com/astromechza/tasklive/pkg/tasks"
)

// Renderer draws the collection. Calls are never concurrent with each other.
type Renderer interface {
	CollectionChanged(snapshot []tasks.Task)

	// ConnectionChanged reports whether the push connection is being re-established.
	ConnectionChanged(reconnecting bool)
}

// Backend is the REST collaborator. *api.Client implements it.
type Backend interface {
	ListTasks(ctx context.Context) ([]tasks.Task, error)
	CreateTask(ctx context.Context, d tasks.Draft) (tasks.Task, error)
	UpdateTask(ctx context.Context, id int64, p tasks.Patch) (tasks.Task, error)
	DeleteTask(ctx context.Context, id int64) error
}

type Options struct {
	Backend  Backend
	Dialer   stream.Dialer
	Renderer Renderer
	Logger   *slog.Logger

	// Backoff and After are passed through to the push channel.
	Backoff backoff.BackOff
	After   func(d time.Duration) <-chan time.Time

	MaxRefreshAttempts int

	// RefreshBackoff paces retries of the refresh that follows every connect.
	// It is called once per connect. Defaults to DefaultRefreshBackoff.
	RefreshBackoff func() backoff.BackOff

	OnTransition  func(stream.Transition)
	OnDecodeError func(error)
}

// DefaultRefreshBackoff retries a failed post-connect refresh from half a
// second up to every 30 seconds for as long as the connection lasts.
func DefaultRefreshBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

type Session struct {
	backend      Backend
	renderer     Renderer
	logger       *slog.Logger
	onTransition func(stream.Transition)

	rec       *reconcile.Reconciler
	refresher *reconcile.Refresher
	channel   *stream.Channel

	ctx            context.Context
	cancel         context.CancelFunc
	refreshes      sync.WaitGroup
	refreshBackoff func() backoff.BackOff
	connected      atomic.Bool

	// cancels the refresh loop of the current connection; only touched on the channel goroutine
	cancelConnRefresh context.CancelFunc

	renderMu     sync.Mutex
	reconnecting bool
}

// Start opens the push channel. Every time it connects, including the first
// time, the full collection is fetched again so that nothing missed while
// disconnected is lost.
func Start(ctx context.Context, opts Options) (*Session, error) {
	if opts.Backend == nil {
		return nil, fmt.Errorf("a backend is required")
	}
	if opts.Dialer == nil {
		return nil, fmt.Errorf("a dialer is required")
	}
	s := &Session{
		backend:      opts.Backend,
		renderer:     opts.Renderer,
		logger:       opts.Logger,
		onTransition: opts.OnTransition,

		refreshBackoff: opts.RefreshBackoff,
	}
	if s.refreshBackoff == nil {
		s.refreshBackoff = DefaultRefreshBackoff
	}
	if s.renderer == nil {
		s.renderer = nopRenderer{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.rec = reconcile.New(s.collectionChanged)
	s.refresher = reconcile.NewRefresher(s.rec, opts.Backend.ListTasks)
	s.refresher.Logger = s.logger
	if opts.MaxRefreshAttempts > 0 {
		s.refresher.MaxAttempts = opts.MaxRefreshAttempts
	}

	ch, err := stream.New(s.ctx, stream.Options{
		Dialer:        opts.Dialer,
		Backoff:       opts.Backoff,
		Logger:        s.logger,
		OnTransition:  s.transition,
		OnDecodeError: opts.OnDecodeError,
		After:         opts.After,
	})
	if err != nil {
		s.cancel()
		return nil, err
	}
	s.channel = ch
	if _, err := ch.Subscribe(s.rec.Apply); err != nil {
		s.cancel()
		ch.Wait()
		return nil, err
	}
	return s, nil
}

// Refresh fetches the whole collection now.
func (s *Session) Refresh(ctx context.Context) error {
	return s.refresher.Refresh(ctx)
}

func (s *Session) Snapshot() []tasks.Task {
	return s.rec.Snapshot()
}

func (s *Session) Get(id int64) (tasks.Task, bool) {
	return s.rec.Get(id)
}

func (s *Session) State() stream.State {
	return s.channel.State()
}

func (s *Session) Transitions() []stream.Transition {
	return s.channel.Transitions()
}

func (s *Session) Reconnecting() bool {
	s.renderMu.Lock()
	defer s.renderMu.Unlock()
	return s.reconnecting
}

// Create asks the server for a new task and adds the answer locally without
// waiting for the push event, which will be a no-op when it arrives.
func (s *Session) Create(ctx context.Context, d tasks.Draft) (tasks.Task, error) {
	t, err := s.backend.CreateTask(ctx, d)
	if err != nil {
		return tasks.Task{}, err
	}
	s.rec.Apply(tasks.Created{Task: t})
	return t, nil
}

func (s *Session) Update(ctx context.Context, id int64, p tasks.Patch) (tasks.Task, error) {
	t, err := s.backend.UpdateTask(ctx, id, p)
	if err != nil {
		return tasks.Task{}, err
	}
	s.rec.Apply(tasks.Updated{Task: t})
	return t, nil
}

func (s *Session) SetCompleted(ctx context.Context, id int64, completed bool) (tasks.Task, error) {
	return s.Update(ctx, id, tasks.Patch{Completed: tasks.Bool(completed)})
}

func (s *Session) Delete(ctx context.Context, id int64) error {
	if err := s.backend.DeleteTask(ctx, id); err != nil {
		return err
	}
	s.rec.Apply(tasks.Deleted{ID: id})
	return nil
}

// Close stops the push channel and waits for any refresh in flight.
// No renderer call starts after Close returns.
func (s *Session) Close() {
	s.cancel()
	s.channel.Wait()
	s.refreshes.Wait()
}

func (s *Session) transition(t stream.Transition) {
	if s.onTransition != nil {
		s.onTransition(t)
	}
	s.connected.Store(t.To == stream.Connected)
	if s.cancelConnRefresh != nil {
		s.cancelConnRefresh()
		s.cancelConnRefresh = nil
	}
	switch t.To {
	case stream.Connected:
		ctx, cancel := context.WithCancel(s.ctx)
		s.cancelConnRefresh = cancel
		s.refreshes.Add(1)
		go func() {
			defer s.refreshes.Done()
			defer cancel()
			s.refreshWhileConnected(ctx)
		}()
	case stream.AwaitingRetry:
		s.setReconnecting(true)
	}
}

// refreshWhileConnected keeps retrying the post-connect refresh, whether it
// failed in transport or kept being overtaken by events, until it lands or
// the connection it belongs to ends.
func (s *Session) refreshWhileConnected(ctx context.Context) {
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		return s.refresher.Refresh(ctx)
	}, backoff.WithContext(s.refreshBackoff(), ctx), func(err error, next time.Duration) {
		s.logger.Warn("refresh after connect failed", "err", err, "attempt", attempt, "retry_in", next)
	})
	if err != nil && ctx.Err() == nil {
		s.logger.Error("giving up on refresh after connect", "err", err, "attempts", attempt)
	}
}

func (s *Session) collectionChanged(snapshot []tasks.Task) {
	s.renderMu.Lock()
	defer s.renderMu.Unlock()
	if s.ctx.Err() != nil {
		return
	}
	s.renderer.CollectionChanged(snapshot)
	if s.reconnecting && s.connected.Load() {
		s.reconnecting = false
		s.renderer.ConnectionChanged(false)
	}
}

func (s *Session) setReconnecting(v bool) {
	s.renderMu.Lock()
	defer s.renderMu.Unlock()
	if s.reconnecting == v || s.ctx.Err() != nil {
		return
	}
	s.reconnecting = v
	s.renderer.ConnectionChanged(v)
}

type nopRenderer struct{}

func (nopRenderer) CollectionChanged([]tasks.Task) {}
func (nopRenderer) ConnectionChanged(bool)         {}
