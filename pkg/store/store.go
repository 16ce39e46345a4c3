// Package store persists tasks for the reference server in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/astromechza/tasklive/pkg/tasks"
)

type Store struct {
	database *sql.DB

	// Today returns the default due date for new tasks.
	Today func() string
}

// Open opens (creating if needed) the database at path and ensures the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// one writer at a time keeps SQLite from returning SQLITE_BUSY under load
	db.SetMaxOpenConns(1)
	s := &Store{database: db, Today: today}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func today() string {
	return time.Now().Format(time.DateOnly)
}

func (s *Store) init() error {
	if _, err := s.database.Exec(
		`CREATE TABLE IF NOT EXISTS tasks (
		id integer not null primary key autoincrement,
		title text not null,
		completed integer not null default 0,
		due_date text,
		assignee_email text
		)`,
	); err != nil {
		return fmt.Errorf("failed to create tasks table: %w", err)
	}
	slog.Info("Ensured initial tables exist")
	return nil
}

func (s *Store) Close() error {
	return s.database.Close()
}

func (s *Store) List(ctx context.Context) ([]tasks.Task, error) {
	rows, err := s.database.QueryContext(ctx, `SELECT id, title, completed, due_date, assignee_email FROM tasks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "err", err)
		}
	}(rows)

	out := make([]tasks.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) Get(ctx context.Context, id int64) (tasks.Task, error) {
	return getTask(ctx, s.database, id)
}

// Create inserts a new open task. A missing due date defaults to today.
func (s *Store) Create(ctx context.Context, d tasks.Draft) (tasks.Task, error) {
	if err := d.Validate(); err != nil {
		return tasks.Task{}, err
	}
	// an empty due date counts as missing
	due := optional(d.DueDate)
	if due == nil {
		due = tasks.String(s.Today())
	}
	assignee := optional(d.AssigneeEmail)
	res, err := s.database.ExecContext(ctx,
		`INSERT INTO tasks (title, completed, due_date, assignee_email) VALUES (?, 0, ?, ?)`,
		d.Title, nullable(due), nullable(assignee),
	)
	if err != nil {
		return tasks.Task{}, fmt.Errorf("failed to insert task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return tasks.Task{}, fmt.Errorf("failed to read task id: %w", err)
	}
	return tasks.Task{ID: id, Title: d.Title, DueDate: due, AssigneeEmail: assignee}, nil
}

func optional(v *string) *string {
	if v == nil {
		return nil
	}
	return tasks.String(*v)
}

// Update merges the patch into the stored task and returns the result.
func (s *Store) Update(ctx context.Context, id int64, p tasks.Patch) (tasks.Task, error) {
	tx, err := s.database.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return tasks.Task{}, fmt.Errorf("failed to start tx: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			slog.Error("failed to rollback", "err", err)
		}
	}()

	current, err := getTask(ctx, tx, id)
	if err != nil {
		return tasks.Task{}, err
	}
	updated := p.ApplyTo(current)
	if err := updated.Validate(); err != nil {
		return tasks.Task{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE tasks SET title = ?, completed = ?, due_date = ?, assignee_email = ? WHERE id = ?`,
		updated.Title, updated.Completed, nullable(updated.DueDate), nullable(updated.AssigneeEmail), id,
	); err != nil {
		return tasks.Task{}, fmt.Errorf("failed to update task: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return tasks.Task{}, fmt.Errorf("failed to commit: %w", err)
	}
	return updated, nil
}

// Delete removes the task and returns what was deleted.
func (s *Store) Delete(ctx context.Context, id int64) (tasks.Task, error) {
	tx, err := s.database.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return tasks.Task{}, fmt.Errorf("failed to start tx: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			slog.Error("failed to rollback", "err", err)
		}
	}()

	current, err := getTask(ctx, tx, id)
	if err != nil {
		return tasks.Task{}, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return tasks.Task{}, fmt.Errorf("failed to delete task: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return tasks.Task{}, fmt.Errorf("failed to commit: %w", err)
	}
	return current, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func getTask(ctx context.Context, q queryer, id int64) (tasks.Task, error) {
	row := q.QueryRowContext(ctx, `SELECT id, title, completed, due_date, assignee_email FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return tasks.Task{}, fmt.Errorf("%w: %d", tasks.ErrNotFound, id)
	}
	return t, err
}

func scanTask(row scanner) (tasks.Task, error) {
	var t tasks.Task
	var due, assignee sql.NullString
	if err := row.Scan(&t.ID, &t.Title, &t.Completed, &due, &assignee); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return tasks.Task{}, err
		}
		return tasks.Task{}, fmt.Errorf("failed to scan: %w", err)
	}
	if due.Valid {
		t.DueDate = tasks.String(due.String)
	}
	if assignee.Valid {
		t.AssigneeEmail = tasks.String(assignee.String)
	}
	return t, nil
}

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
