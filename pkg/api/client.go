// Package api is the REST client for the task server.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/astromechza/tasklive/pkg/tasks"
)

// DefaultTimeout bounds each request.
const DefaultTimeout = 10 * time.Second

type Client struct {
	baseUrl *url.URL
	http    *http.Client
	Timeout time.Duration
}

// New creates a client for the server at baseURL, e.g. "http://127.0.0.1:8080".
// A nil httpClient means http.DefaultClient.
func New(baseURL string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q: scheme and host are required", baseURL)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseUrl: u, http: httpClient, Timeout: DefaultTimeout}, nil
}

// StreamURL is the server-sent events endpoint.
func (c *Client) StreamURL() string {
	return c.baseUrl.JoinPath("api/tasks/stream").String()
}

// WebSocketURL is the websocket variant of the push endpoint.
func (c *Client) WebSocketURL() string {
	u := c.baseUrl.JoinPath("api/tasks/ws")
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String()
}

func (c *Client) ListTasks(ctx context.Context) ([]tasks.Task, error) {
	var out []tasks.Task
	if err := c.do(ctx, http.MethodGet, c.baseUrl.JoinPath("api/tasks"), nil, &out); err != nil {
		return nil, err
	}
	for _, t := range out {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("server returned an invalid task: %w", err)
		}
	}
	return out, nil
}

func (c *Client) CreateTask(ctx context.Context, d tasks.Draft) (tasks.Task, error) {
	if err := d.Validate(); err != nil {
		return tasks.Task{}, err
	}
	var out tasks.Task
	if err := c.do(ctx, http.MethodPost, c.baseUrl.JoinPath("api/tasks"), d, &out); err != nil {
		return tasks.Task{}, err
	}
	return out, out.Validate()
}

func (c *Client) UpdateTask(ctx context.Context, id int64, p tasks.Patch) (tasks.Task, error) {
	var out tasks.Task
	if err := c.do(ctx, http.MethodPut, c.taskURL(id), p, &out); err != nil {
		return tasks.Task{}, err
	}
	return out, out.Validate()
}

func (c *Client) DeleteTask(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, c.taskURL(id), nil, nil)
}

func (c *Client) taskURL(id int64) *url.URL {
	return c.baseUrl.JoinPath("api/tasks", strconv.FormatInt(id, 10))
}

func (c *Client) do(ctx context.Context, method string, u *url.URL, in, out any) error {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode body: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &tasks.TransportError{Op: method, URL: u.String(), Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	default:
		te := &tasks.TransportError{Op: method, URL: u.String(), StatusCode: resp.StatusCode}
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&apiErr); err == nil && apiErr.Error != "" {
			te.Err = errors.New(apiErr.Error)
		}
		if resp.StatusCode == http.StatusNotFound {
			te.Err = wrapNotFound(te.Err)
		}
		return te
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &tasks.TransportError{Op: method, URL: u.String(), Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

func wrapNotFound(err error) error {
	if err == nil {
		return tasks.ErrNotFound
	}
	return fmt.Errorf("%w: %v", tasks.ErrNotFound, err)
}
