package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/astromechza/tasklive/pkg/tasks"
)

func TestRefreshReplacesCollection(t *testing.T) {
	r := New(nil)
	rf := NewRefresher(r, func(ctx context.Context) ([]tasks.Task, error) {
		return []tasks.Task{task(1, "A", false)}, nil
	})

	if err := rf.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	assertTasks(t, r.Snapshot(), []tasks.Task{task(1, "A", false)})
}

func TestRefreshDiscardsStaleFetch(t *testing.T) {
	r := New(nil)
	r.ReplaceAll([]tasks.Task{task(1, "A", false)})

	calls := 0
	rf := NewRefresher(r, func(ctx context.Context) ([]tasks.Task, error) {
		calls++
		if calls == 1 {
			// captured before the update below was applied
			stale := []tasks.Task{task(1, "A", false)}
			r.Apply(tasks.Updated{Task: task(1, "A", true)})
			return stale, nil
		}
		return []tasks.Task{task(1, "A", true)}, nil
	})

	if err := rf.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected the stale fetch to be re-driven once, got %d calls", calls)
	}
	assertTasks(t, r.Snapshot(), []tasks.Task{task(1, "A", true)})
}

func TestRefreshGivesUpAfterMaxAttempts(t *testing.T) {
	r := New(nil)
	calls := 0
	rf := NewRefresher(r, func(ctx context.Context) ([]tasks.Task, error) {
		calls++
		r.Apply(tasks.Created{Task: task(int64(calls), "busy", false)})
		return nil, nil
	})
	rf.MaxAttempts = 3

	err := rf.Refresh(context.Background())
	var stale *tasks.StaleFetchError
	if !errors.As(err, &stale) {
		t.Fatalf("expected StaleFetchError, got %v", err)
	}
	if stale.Attempts != 3 || calls != 3 {
		t.Errorf("expected 3 attempts, got %d (calls %d)", stale.Attempts, calls)
	}
	if r.Len() != 3 {
		t.Errorf("newer events must survive, got %d tasks", r.Len())
	}
}

func TestRefreshReturnsFetchError(t *testing.T) {
	r := New(nil)
	r.ReplaceAll([]tasks.Task{task(1, "A", false)})
	wantErr := &tasks.TransportError{Op: "GET", URL: "http://x/api/tasks", Err: errors.New("connection refused")}
	rf := NewRefresher(r, func(ctx context.Context) ([]tasks.Task, error) {
		return nil, wantErr
	})

	if err := rf.Refresh(context.Background()); !errors.Is(err, wantErr) {
		t.Fatalf("expected transport error, got %v", err)
	}
	assertTasks(t, r.Snapshot(), []tasks.Task{task(1, "A", false)})
}
