package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gorilla/websocket"

	"github.com/astromechza/tasklive/pkg/stream"
	"github.com/astromechza/tasklive/pkg/tasks"
)

const writeWait = 10 * time.Second

// streamTasks serves change events as server-sent events until the client
// goes away or the subscriber is ended by the hub.
func (s *Server) streamTasks(writer http.ResponseWriter, request *http.Request) {
	flusher, ok := writer.(http.Flusher)
	if !ok {
		s.writeError(writer, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	sub, err := s.hub.Subscribe()
	if err != nil {
		s.writeError(writer, http.StatusServiceUnavailable, err.Error())
		return
	}
	defer s.hub.Unsubscribe(sub.ID)

	writer.Header().Set("Content-Type", "text/event-stream")
	writer.Header().Set("Cache-Control", "no-cache")
	writer.Header().Set("Connection", "keep-alive")
	writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepalive := time.NewTicker(s.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			if err := sse.Encode(writer, sse.Event{Event: tasks.MessageName(ev), Data: tasks.Payload(ev)}); err != nil {
				s.logger.Error("failed to write event", "subscriber", sub.ID, "err", err)
				return
			}
		case <-keepalive.C:
			if _, err := fmt.Fprint(writer, ": keepalive\n\n"); err != nil {
				s.logger.Debug("stream closed", "subscriber", sub.ID, "err", err)
				return
			}
		case <-request.Context().Done():
			return
		}
		flusher.Flush()
	}
}

// websocketTasks serves the same events as JSON envelopes over a websocket.
func (s *Server) websocketTasks(writer http.ResponseWriter, request *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	conn, err := upgrader.Upgrade(writer, request, nil)
	if err != nil {
		s.logger.Error("failed to upgrade", "err", err)
		return
	}
	defer conn.Close()

	sub, err := s.hub.Subscribe()
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, err.Error()), time.Now().Add(writeWait))
		return
	}
	defer s.hub.Unsubscribe(sub.ID)

	// the client never sends anything we need, but reading is what notices a close
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(s.pingInterval)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-sub.Events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
				return
			}
			raw, err := json.Marshal(tasks.Payload(ev))
			if err != nil {
				s.logger.Error("failed to encode event", "err", err)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(stream.Envelope{Event: tasks.MessageName(ev), Data: raw}); err != nil {
				s.logger.Error("failed to write event", "subscriber", sub.ID, "err", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.logger.Debug("ping failed", "subscriber", sub.ID, "err", err)
				return
			}
		case <-gone:
			return
		case <-request.Context().Done():
			return
		}
	}
}
