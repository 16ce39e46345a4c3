package reconcile

import (
	"context"
	"log/slog"

	"github.com/astromechza/tasklive/pkg/tasks"
)

// DefaultMaxAttempts bounds how many times a refresh is re-driven after being overtaken.
const DefaultMaxAttempts = 5

// ListFunc fetches the full collection from the server.
type ListFunc func(ctx context.Context) ([]tasks.Task, error)

// Refresher runs full fetches and commits them only if no change event
// arrived while the request was in flight.
type Refresher struct {
	rec         *Reconciler
	list        ListFunc
	MaxAttempts int
	Logger      *slog.Logger
}

func NewRefresher(rec *Reconciler, list ListFunc) *Refresher {
	return &Refresher{
		rec:         rec,
		list:        list,
		MaxAttempts: DefaultMaxAttempts,
		Logger:      slog.Default(),
	}
}

// Refresh fetches and replaces the collection. A result that was overtaken by
// newer events is dropped and fetched again straight away. Fetch errors are
// returned as they come from the list function.
func (r *Refresher) Refresh(ctx context.Context) error {
	attempts := r.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	for i := 1; i <= attempts; i++ {
		seq := r.rec.Seq()
		ts, err := r.list(ctx)
		if err != nil {
			return err
		}
		if r.rec.ReplaceAllAt(seq, ts) {
			r.Logger.Debug("refreshed collection", "tasks", len(ts), "attempt", i)
			return nil
		}
		r.Logger.Info("discarding stale fetch", "attempt", i, "requested_at", seq)
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return &tasks.StaleFetchError{Attempts: attempts}
}
