// Package server is the reference task backend: a REST API over the SQLite
// store plus the push endpoints the live client subscribes to.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"

	"github.com/astromechza/tasklive/pkg/notify"
	"github.com/astromechza/tasklive/pkg/tasks"
)

const (
	DefaultKeepalive    = 15 * time.Second
	DefaultPingInterval = 30 * time.Second
)

// Store is the persistence the server needs. *store.Store implements it.
type Store interface {
	List(ctx context.Context) ([]tasks.Task, error)
	Get(ctx context.Context, id int64) (tasks.Task, error)
	Create(ctx context.Context, d tasks.Draft) (tasks.Task, error)
	Update(ctx context.Context, id int64, p tasks.Patch) (tasks.Task, error)
	Delete(ctx context.Context, id int64) (tasks.Task, error)
}

type Options struct {
	Logger *slog.Logger

	// Keepalive is the interval between SSE comment frames.
	Keepalive time.Duration

	// PingInterval is the interval between websocket pings.
	PingInterval time.Duration

	// Notifier is told about created and updated tasks. Optional.
	Notifier notify.Notifier
}

type Server struct {
	store        Store
	hub          *Hub
	logger       *slog.Logger
	keepalive    time.Duration
	pingInterval time.Duration
	notifier     notify.Notifier
	router       *mux.Router

	// writeMu keeps the order of published events the same as the order of store writes.
	writeMu sync.Mutex
}

func New(store Store, opts Options) *Server {
	s := &Server{
		store:        store,
		logger:       opts.Logger,
		keepalive:    opts.Keepalive,
		pingInterval: opts.PingInterval,
		notifier:     opts.Notifier,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.keepalive <= 0 {
		s.keepalive = DefaultKeepalive
	}
	if s.pingInterval <= 0 {
		s.pingInterval = DefaultPingInterval
	}
	s.hub = NewHub(s.logger)

	r := mux.NewRouter()
	r.Use(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, writer, request)
			s.logger.Info("handled", "method", request.Method, "url", request.URL, "duration", m.Duration, "status", m.Code)
		})
	})
	r.Methods(http.MethodGet).Path("/api/tasks/stream").HandlerFunc(s.streamTasks)
	r.Methods(http.MethodGet).Path("/api/tasks/ws").HandlerFunc(s.websocketTasks)
	r.Methods(http.MethodGet).Path("/api/tasks").HandlerFunc(s.listTasks)
	r.Methods(http.MethodPost).Path("/api/tasks").HandlerFunc(s.createTask)
	r.Methods(http.MethodGet).Path("/api/tasks/{id:[0-9]+}").HandlerFunc(s.getTask)
	r.Methods(http.MethodPut, http.MethodPatch).Path("/api/tasks/{id:[0-9]+}").HandlerFunc(s.updateTask)
	r.Methods(http.MethodDelete).Path("/api/tasks/{id:[0-9]+}").HandlerFunc(s.deleteTask)
	s.router = r
	return s
}

func (s *Server) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	s.router.ServeHTTP(writer, request)
}

func (s *Server) Hub() *Hub {
	return s.hub
}

// Close ends every open stream so that http.Server shutdown does not hang on them.
func (s *Server) Close() {
	s.hub.Close()
}

func (s *Server) listTasks(writer http.ResponseWriter, request *http.Request) {
	all, err := s.store.List(request.Context())
	if err != nil {
		s.internalError(writer, "failed to list tasks", err)
		return
	}
	s.writeJSON(writer, http.StatusOK, all)
}

func (s *Server) getTask(writer http.ResponseWriter, request *http.Request) {
	id, ok := s.taskID(writer, request)
	if !ok {
		return
	}
	t, err := s.store.Get(request.Context(), id)
	if err != nil {
		s.storeError(writer, "failed to get task", err)
		return
	}
	s.writeJSON(writer, http.StatusOK, t)
}

func (s *Server) createTask(writer http.ResponseWriter, request *http.Request) {
	var d tasks.Draft
	if err := json.NewDecoder(request.Body).Decode(&d); err != nil {
		s.writeError(writer, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := d.Validate(); err != nil {
		s.writeError(writer, http.StatusBadRequest, err.Error())
		return
	}
	s.writeMu.Lock()
	t, err := s.store.Create(request.Context(), d)
	if err == nil {
		s.hub.Publish(tasks.Created{Task: t})
	}
	s.writeMu.Unlock()
	if err != nil {
		s.internalError(writer, "failed to create task", err)
		return
	}
	s.notify("created", t)
	s.writeJSON(writer, http.StatusCreated, t)
}

func (s *Server) updateTask(writer http.ResponseWriter, request *http.Request) {
	id, ok := s.taskID(writer, request)
	if !ok {
		return
	}
	var p tasks.Patch
	if err := json.NewDecoder(request.Body).Decode(&p); err != nil {
		s.writeError(writer, http.StatusBadRequest, "invalid request body")
		return
	}
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		s.writeError(writer, http.StatusBadRequest, "title is required")
		return
	}
	s.writeMu.Lock()
	t, err := s.store.Update(request.Context(), id, p)
	if err == nil {
		s.hub.Publish(tasks.Updated{Task: t})
	}
	s.writeMu.Unlock()
	if err != nil {
		s.storeError(writer, "failed to update task", err)
		return
	}
	s.notify("updated", t)
	s.writeJSON(writer, http.StatusOK, t)
}

func (s *Server) deleteTask(writer http.ResponseWriter, request *http.Request) {
	id, ok := s.taskID(writer, request)
	if !ok {
		return
	}
	s.writeMu.Lock()
	t, err := s.store.Delete(request.Context(), id)
	if err == nil {
		s.hub.Publish(tasks.Deleted{ID: t.ID})
	}
	s.writeMu.Unlock()
	if err != nil {
		s.storeError(writer, "failed to delete task", err)
		return
	}
	s.writeJSON(writer, http.StatusOK, struct {
		Message string     `json:"message"`
		Task    tasks.Task `json:"task"`
	}{Message: "Task deleted", Task: t})
}

func (s *Server) notify(event string, t tasks.Task) {
	if s.notifier != nil {
		s.notifier.Notify(notify.Notification{Event: event, Task: t})
	}
}

func (s *Server) taskID(writer http.ResponseWriter, request *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(request)["id"], 10, 64)
	if err != nil || id <= 0 {
		s.writeError(writer, http.StatusBadRequest, "invalid task id")
		return 0, false
	}
	return id, true
}

func (s *Server) storeError(writer http.ResponseWriter, msg string, err error) {
	if errors.Is(err, tasks.ErrNotFound) {
		s.writeError(writer, http.StatusNotFound, "Task not found")
		return
	}
	s.internalError(writer, msg, err)
}

func (s *Server) internalError(writer http.ResponseWriter, msg string, err error) {
	s.logger.Error(msg, "err", err)
	s.writeError(writer, http.StatusInternalServerError, msg)
}

func (s *Server) writeError(writer http.ResponseWriter, status int, msg string) {
	s.writeJSON(writer, status, map[string]string{"error": msg})
}

func (s *Server) writeJSON(writer http.ResponseWriter, status int, body any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	if err := json.NewEncoder(writer).Encode(body); err != nil {
		s.logger.Error("failed to write out", "err", err)
	}
}
