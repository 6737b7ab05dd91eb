package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"vidconv/internal/config"
)

const userAgent = "vidconv/0.1.0"

// Event names a notification kind.
type Event string

const (
	EventTaskCompleted Event = "task_completed"
	EventTaskPartial   Event = "task_partially_completed"
	EventTaskFailed    Event = "task_failed"
	EventTaskCancelled Event = "task_cancelled"
	EventError         Event = "error"
	EventTest          Event = "test"
)

// Payload carries event fields such as "taskID", "completed", "failed", "error".
type Payload map[string]any

// Service is the notification surface exposed to workflow components.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint:      topic,
		client:        &http.Client{Timeout: timeout},
		taskCompleted: cfg.Notifications.TaskCompleted,
		errors:        cfg.Notifications.Errors,
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint      string
	client        *http.Client
	taskCompleted bool
	errors        bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := n.format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) format(event Event, payload Payload) (message, bool) {
	taskID := payload.text("taskID")
	counts := fmt.Sprintf("%d completed, %d failed", payload.number("completed"), payload.number("failed"))
	switch event {
	case EventTaskCompleted:
		if !n.taskCompleted {
			return message{}, false
		}
		body := fmt.Sprintf("✅ Task %s complete: %d file(s) converted", taskID, payload.number("completed"))
		if best := payload.number("bestEffort"); best > 0 {
			body += fmt.Sprintf(" (%d best effort)", best)
		}
		return message{
			title: "vidconv - Task Complete",
			body:  body,
			tags:  []string{"vidconv", "task", "completed"},
		}, true
	case EventTaskPartial:
		if !n.taskCompleted {
			return message{}, false
		}
		return message{
			title: "vidconv - Task Partially Complete",
			body:  fmt.Sprintf("⚠️ Task %s finished: %s", taskID, counts),
			tags:  []string{"vidconv", "task", "partial"},
		}, true
	case EventTaskFailed:
		if !n.taskCompleted && !n.errors {
			return message{}, false
		}
		return message{
			title:    "vidconv - Task Failed",
			body:     fmt.Sprintf("❌ Task %s failed: %s", taskID, counts),
			tags:     []string{"vidconv", "task", "failed"},
			priority: "high",
		}, true
	case EventError:
		if !n.errors {
			return message{}, false
		}
		var builder strings.Builder
		builder.WriteString("❌ Error")
		if label := payload.text("context"); label != "" {
			builder.WriteString(" with ")
			builder.WriteString(label)
		}
		builder.WriteString(": ")
		if detail := payload.text("error"); detail != "" {
			builder.WriteString(detail)
		} else {
			builder.WriteString("unknown")
		}
		return message{
			title:    "vidconv - Error",
			body:     builder.String(),
			tags:     []string{"vidconv", "error", "alert"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "vidconv - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"vidconv", "test"},
			priority: "low",
		}, true
	default:
		// cancellation is operator initiated; nothing to announce
		return message{}, false
	}
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	if n == nil || n.client == nil {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (p Payload) text(key string) string {
	if p == nil {
		return ""
	}
	switch v := p[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case error:
		return strings.TrimSpace(v.Error())
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func (p Payload) number(key string) int {
	if p == nil {
		return 0
	}
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	default:
		return 0
	}
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
