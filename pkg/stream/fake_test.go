package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeConn replays its messages, then returns err, or blocks until closed when err is nil.
type fakeConn struct {
	msgs   chan Message
	err    error
	closed chan struct{}
	once   sync.Once
}

func newFakeConn(err error, msgs ...Message) *fakeConn {
	c := &fakeConn{
		msgs:   make(chan Message, len(msgs)),
		err:    err,
		closed: make(chan struct{}),
	}
	for _, m := range msgs {
		c.msgs <- m
	}
	close(c.msgs)
	return c
}

func (c *fakeConn) Next() (Message, error) {
	select {
	case <-c.closed:
		return Message{}, errors.New("use of closed connection")
	default:
	}
	if m, ok := <-c.msgs; ok {
		return m, nil
	}
	if c.err != nil {
		return Message{}, c.err
	}
	<-c.closed
	return Message{}, errors.New("use of closed connection")
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// fakeDialer hands out scripted results in order. Once the script runs out
// every dial fails.
type fakeDialer struct {
	mu      sync.Mutex
	results []any
	dials   int
}

func (d *fakeDialer) Dial(ctx context.Context) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.results) == 0 {
		return nil, errors.New("connection refused")
	}
	next := d.results[0]
	d.results = d.results[1:]
	switch r := next.(type) {
	case *fakeConn:
		return r, nil
	case error:
		return nil, r
	}
	panic("unexpected script entry")
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// delayRecorder fires every timer immediately and remembers the requested delays.
type delayRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *delayRecorder) after(d time.Duration) <-chan time.Time {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func (r *delayRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Duration, len(r.delays))
	copy(out, r.delays)
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
