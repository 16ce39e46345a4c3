package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/astromechza/tasklive/pkg/stream"
	"github.com/astromechza/tasklive/pkg/tasks"
)

// fakeBackend is an in-memory task server.
type fakeBackend struct {
	mu        sync.Mutex
	items     []tasks.Task
	nextID    int64
	listCalls int

	// listErrs are returned by the next ListTasks calls, one each.
	listErrs []error
	// beforeListReturns runs after the list is read and before it is returned.
	beforeListReturns func(call int)
}

func (b *fakeBackend) ListTasks(ctx context.Context) ([]tasks.Task, error) {
	b.mu.Lock()
	b.listCalls++
	call := b.listCalls
	if len(b.listErrs) > 0 {
		err := b.listErrs[0]
		b.listErrs = b.listErrs[1:]
		b.mu.Unlock()
		return nil, err
	}
	out := make([]tasks.Task, len(b.items))
	copy(out, b.items)
	hook := b.beforeListReturns
	b.mu.Unlock()
	if hook != nil {
		hook(call)
	}
	return out, nil
}

func (b *fakeBackend) CreateTask(ctx context.Context, d tasks.Draft) (tasks.Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	t := tasks.Task{ID: b.nextID, Title: d.Title, DueDate: d.DueDate, AssigneeEmail: d.AssigneeEmail}
	b.items = append(b.items, t)
	return t, nil
}

func (b *fakeBackend) UpdateTask(ctx context.Context, id int64, p tasks.Patch) (tasks.Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, t := range b.items {
		if t.ID == id {
			b.items[i] = p.ApplyTo(t)
			return b.items[i], nil
		}
	}
	return tasks.Task{}, fmt.Errorf("%w: %d", tasks.ErrNotFound, id)
}

func (b *fakeBackend) DeleteTask(ctx context.Context, id int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, t := range b.items {
		if t.ID == id {
			b.items = append(b.items[:i], b.items[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %d", tasks.ErrNotFound, id)
}

func (b *fakeBackend) ListCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.listCalls
}

// pushConn delivers whatever the test sends on msgs. Closing msgs ends the stream.
type pushConn struct {
	msgs   chan stream.Message
	closed chan struct{}
	once   sync.Once
}

func newPushConn() *pushConn {
	return &pushConn{msgs: make(chan stream.Message), closed: make(chan struct{})}
}

func (c *pushConn) Next() (stream.Message, error) {
	select {
	case m, ok := <-c.msgs:
		if !ok {
			return stream.Message{}, io.EOF
		}
		return m, nil
	case <-c.closed:
		return stream.Message{}, errors.New("use of closed connection")
	}
}

func (c *pushConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// send pushes ev as the server would announce it.
func (c *pushConn) send(t *testing.T, ev tasks.ChangeEvent) {
	t.Helper()
	raw, err := jsonPayload(ev)
	if err != nil {
		t.Fatal(err)
	}
	select {
	case c.msgs <- stream.Message{Name: tasks.MessageName(ev), Data: raw}:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out pushing event")
	}
}

// queueDialer hands out queued connections or errors, blocking until one is queued.
type queueDialer struct {
	results chan any
}

func newQueueDialer(results ...any) *queueDialer {
	d := &queueDialer{results: make(chan any, 16)}
	for _, r := range results {
		d.results <- r
	}
	return d
}

func (d *queueDialer) Dial(ctx context.Context) (stream.Conn, error) {
	select {
	case r := <-d.results:
		if err, ok := r.(error); ok {
			return nil, err
		}
		return r.(stream.Conn), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// gate holds every reconnect delay until the test releases it.
type gate struct {
	delays  chan time.Duration
	release chan time.Time
}

func newGate() *gate {
	return &gate{delays: make(chan time.Duration, 16), release: make(chan time.Time)}
}

func (g *gate) after(d time.Duration) <-chan time.Time {
	g.delays <- d
	return g.release
}

type recordingRenderer struct {
	mu          sync.Mutex
	collections [][]tasks.Task
	connection  []bool
}

func (r *recordingRenderer) CollectionChanged(snapshot []tasks.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collections = append(r.collections, snapshot)
}

func (r *recordingRenderer) ConnectionChanged(reconnecting bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connection = append(r.connection, reconnecting)
}

func (r *recordingRenderer) renders() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.collections)
}

func (r *recordingRenderer) last() []tasks.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.collections) == 0 {
		return nil
	}
	return r.collections[len(r.collections)-1]
}

func (r *recordingRenderer) connectionChanges() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.connection...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func sameTasks(a, b []tasks.Task) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}

func jsonPayload(ev tasks.ChangeEvent) ([]byte, error) {
	return json.Marshal(tasks.Payload(ev))
}
