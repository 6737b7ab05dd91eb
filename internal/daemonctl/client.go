package daemonctl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"vidconv/internal/api"
	"vidconv/internal/config"
)

// ErrDaemonNotRunning indicates the daemon API is unreachable.
var ErrDaemonNotRunning = errors.New("daemon not running")

// ErrNotFound is returned when the daemon reports a missing task.
var ErrNotFound = errors.New("task not found")

// StatusError is a non-2xx reply other than 404.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("daemon returned %d: %s", e.Code, e.Message)
}

// Client talks to a running daemon.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// NewClient builds a client for bind ("host:port" or a full URL).
func NewClient(bind, token string) *Client {
	base := strings.TrimRight(strings.TrimSpace(bind), "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		base:  base,
		token: strings.TrimSpace(token),
		http:  &http.Client{Timeout: 30 * time.Second},
	}
}

// FromConfig builds a client for the configured API bind address.
func FromConfig(cfg *config.Config) *Client {
	return NewClient(cfg.Paths.APIBind, cfg.Paths.APIToken)
}

// Status fetches the daemon status.
func (c *Client) Status(ctx context.Context) (*api.DaemonStatus, error) {
	var out api.DaemonStatus
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListTasks lists owner's tasks, optionally filtered by status.
func (c *Client) ListTasks(ctx context.Context, owner string, statuses ...string) ([]api.TaskView, error) {
	query := url.Values{"owner": {owner}}
	for _, s := range statuses {
		query.Add("status", s)
	}
	var out api.TaskListResponse
	if err := c.do(ctx, http.MethodGet, "/api/tasks", query, &out); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

// GetTask fetches one task. A missing task returns (nil, nil).
func (c *Client) GetTask(ctx context.Context, owner, taskID string, live bool) (*api.TaskView, error) {
	query := url.Values{"owner": {owner}}
	if live {
		query.Set("live", "1")
	}
	var out api.TaskView
	err := c.do(ctx, http.MethodGet, "/api/tasks/"+url.PathEscape(taskID), query, &out)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Cancel asks the daemon to cancel a task. A rejected cancel (terminal
// task) still returns the response with Success false.
func (c *Client) Cancel(ctx context.Context, owner, taskID string) (*api.CancelResponse, error) {
	query := url.Values{"owner": {owner}}
	var out api.CancelResponse
	err := c.do(ctx, http.MethodPost, "/api/tasks/"+url.PathEscape(taskID)+"/cancel", query, &out)
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.Code == http.StatusConflict {
		return &out, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, out any) error {
	target := c.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if isDaemonUnavailable(err) {
			return ErrDaemonNotRunning
		}
		return fmt.Errorf("daemon request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read daemon response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusConflict:
		if out != nil {
			_ = json.Unmarshal(body, out)
		}
		return &StatusError{Code: resp.StatusCode, Message: errorMessage(body)}
	case resp.StatusCode >= 300:
		return &StatusError{Code: resp.StatusCode, Message: errorMessage(body)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode daemon response: %w", err)
	}
	return nil
}

func errorMessage(body []byte) string {
	var payload api.ErrorResponse
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(body))
}

func isDaemonUnavailable(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ENOENT) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
