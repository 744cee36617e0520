package origin

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"taskwatch/internal/config"
	"taskwatch/internal/logging"
	"taskwatch/internal/poller"
)

// Agent is an HTTP client for the origin agent. It implements poller.Prober.
type Agent struct {
	client *resty.Client
	logger *slog.Logger
}

type triggerRequest struct {
	OriginRef string `json:"origin_ref"`
}

type progressResponse struct {
	IndicatorVisible bool `json:"indicator_visible"`
	HasPercent       bool `json:"has_percent"`
	Percent          int  `json:"percent"`
}

// NewAgent builds an agent client from configuration. Returns nil when no
// agent URL is configured; callers treat a nil agent as trigger-less
// operation driven purely by incoming events.
func NewAgent(cfg *config.Config, logger *slog.Logger) *Agent {
	baseURL := strings.TrimSpace(cfg.Origin.AgentURL)
	if baseURL == "" {
		return nil
	}

	timeout := time.Duration(cfg.Origin.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("User-Agent", userAgent)
	if token := strings.TrimSpace(cfg.Origin.AgentToken); token != "" {
		client.SetAuthToken(token)
	}

	return &Agent{
		client: client,
		logger: logging.WithComponent(logger, "origin"),
	}
}

const userAgent = "taskwatch/0.1.0"

// Trigger asks the agent to start the download behind an origin reference.
// The agent acknowledges synchronously; actual download activity arrives
// later as events.
func (a *Agent) Trigger(ctx context.Context, originRef string) error {
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(triggerRequest{OriginRef: originRef}).
		Post("/trigger")
	if err != nil {
		return fmt.Errorf("trigger %s: %w", originRef, err)
	}
	if resp.StatusCode() >= 300 {
		return fmt.Errorf("trigger %s: agent returned %d: %s",
			originRef, resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return nil
}

// Probe asks the agent for the current progress indicator of one origin
// reference.
func (a *Agent) Probe(ctx context.Context, originRef string) (poller.Snapshot, error) {
	var body progressResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetQueryParam("origin_ref", originRef).
		SetResult(&body).
		Get("/progress")
	if err != nil {
		return poller.Snapshot{}, fmt.Errorf("probe %s: %w", originRef, err)
	}
	if resp.StatusCode() == http.StatusNotFound || resp.StatusCode() == http.StatusGone {
		return poller.Snapshot{}, poller.ErrTargetGone
	}
	if resp.StatusCode() >= 300 {
		return poller.Snapshot{}, fmt.Errorf("probe %s: agent returned %d", originRef, resp.StatusCode())
	}
	return poller.Snapshot{
		IndicatorVisible: body.IndicatorVisible,
		HasPercent:       body.HasPercent,
		Percent:          body.Percent,
	}, nil
}
