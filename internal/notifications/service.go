package notifications

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"taskwatch/internal/config"
)

const userAgent = "taskwatch/0.1.0"

// Service defines the notification surface exposed to the engine.
type Service interface {
	NotifyTaskComplete(ctx context.Context, label string) error
	NotifyTaskFailed(ctx context.Context, label, detail string) error
	NotifyBatchSettled(ctx context.Context, completed, failed int) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", userAgent).
		SetHeader("Content-Type", "text/plain; charset=utf-8")

	return &ntfyService{endpoint: topic, client: client}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *resty.Client
}

func (n *ntfyService) NotifyTaskComplete(ctx context.Context, label string) error {
	data := payload{
		title:   "Taskwatch - Complete",
		message: fmt.Sprintf("Download finished: %s", strings.TrimSpace(label)),
		tags:    []string{"taskwatch", "task", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyTaskFailed(ctx context.Context, label, detail string) error {
	message := fmt.Sprintf("Download failed: %s", strings.TrimSpace(label))
	if detail = strings.TrimSpace(detail); detail != "" {
		message = fmt.Sprintf("%s\n%s", message, detail)
	}
	data := payload{
		title:    "Taskwatch - Failed",
		message:  message,
		tags:     []string{"taskwatch", "task", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyBatchSettled(ctx context.Context, completed, failed int) error {
	var title, message string
	if failed == 0 {
		title = "Taskwatch - Batch Complete"
		message = fmt.Sprintf("All downloads finished: %d completed", completed)
	} else {
		title = "Taskwatch - Batch Complete (with errors)"
		message = fmt.Sprintf("Downloads settled: %d completed, %d failed", completed, failed)
	}
	data := payload{
		title:   title,
		message: message,
		tags:    []string{"taskwatch", "batch", "settled"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Taskwatch - Test",
		message:  "Notification system test",
		tags:     []string{"taskwatch", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req := n.client.R().
		SetContext(ctx).
		SetBody(data.message)
	if data.title != "" {
		req.SetHeader("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.SetHeader("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.SetHeader("Priority", data.priority)
	}

	resp, err := req.Post(n.endpoint)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	if resp.StatusCode() >= 300 {
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return nil
}

type noopService struct{}

func (noopService) NotifyTaskComplete(context.Context, string) error { return nil }

func (noopService) NotifyTaskFailed(context.Context, string, string) error { return nil }

func (noopService) NotifyBatchSettled(context.Context, int, int) error { return nil }

func (noopService) TestNotification(context.Context) error { return nil }
