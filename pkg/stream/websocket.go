package stream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/astromechza/tasklive/pkg/tasks"
)

// Envelope is the JSON frame used on the websocket transport.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// WebSocketDialer connects to the websocket variant of the push endpoint.
type WebSocketDialer struct {
	URL    string
	Dialer *websocket.Dialer
}

func (d *WebSocketDialer) Dial(ctx context.Context) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, d.URL, nil)
	if err != nil {
		te := &tasks.TransportError{Op: "dial", URL: d.URL, Err: err}
		if resp != nil {
			te.StatusCode = resp.StatusCode
		}
		return nil, te
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

// Next returns the next text frame. A frame that is not a valid envelope is
// returned without a name so that it is reported as a decode error.
func (c *wsConn) Next() (Message, error) {
	for {
		mt, p, err := c.conn.ReadMessage()
		if err != nil {
			return Message{}, fmt.Errorf("failed to read message: %w", err)
		}
		switch mt {
		case websocket.TextMessage:
			var env Envelope
			if err := json.Unmarshal(p, &env); err != nil {
				return Message{Data: p}, nil
			}
			return Message{Name: env.Event, Data: env.Data}, nil
		default:
		}
	}
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
