package stream

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/gin-contrib/sse"

	"github.com/astromechza/tasklive/pkg/tasks"
)

// SSEDialer connects to a server-sent events endpoint.
type SSEDialer struct {
	URL    string
	Client *http.Client
	Header http.Header
}

func (d *SSEDialer) Dial(ctx context.Context) (Conn, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, vs := range d.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &tasks.TransportError{Op: "GET", URL: d.URL, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, &tasks.TransportError{Op: "GET", URL: d.URL, StatusCode: resp.StatusCode}
	}
	if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt != "text/event-stream" {
		_ = resp.Body.Close()
		return nil, &tasks.TransportError{Op: "GET", URL: d.URL, Err: fmt.Errorf("unexpected content type %q", mt)}
	}
	return newSSEConn(resp.Body), nil
}

var decodeFrame = sse.Decode

type sseConn struct {
	body   io.ReadCloser
	reader *bufio.Reader
}

func newSSEConn(body io.ReadCloser) *sseConn {
	return &sseConn{body: body, reader: bufio.NewReader(body)}
}

// Next reads frames until one of them carries an event. Comment-only frames
// such as keepalives are skipped.
func (c *sseConn) Next() (Message, error) {
	for {
		frame, err := c.readFrame()
		if err != nil {
			return Message{}, err
		}
		events, err := decodeFrame(bytes.NewReader(frame))
		if err != nil {
			// unnamed, so the channel reports it as a decode error and keeps reading
			return Message{Data: frame}, nil
		}
		if len(events) == 0 {
			continue
		}
		ev := events[0]
		data, ok := ev.Data.(string)
		if !ok {
			data = fmt.Sprint(ev.Data)
		}
		return Message{Name: ev.Event, Data: []byte(data)}, nil
	}
}

// readFrame returns the lines of one event, each terminated by a newline,
// including the blank line that ends it. A frame cut short by EOF is discarded.
func (c *sseConn) readFrame() ([]byte, error) {
	var frame bytes.Buffer
	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		frame.WriteString(line)
		frame.WriteByte('\n')
		if line == "" {
			return frame.Bytes(), nil
		}
	}
}

func (c *sseConn) Close() error {
	return c.body.Close()
}
