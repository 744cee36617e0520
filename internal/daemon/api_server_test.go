package daemon

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"taskwatch/internal/engine"
	"taskwatch/internal/logging"
	"taskwatch/internal/notifications"
	"taskwatch/internal/store"
	"taskwatch/internal/task"
	"taskwatch/internal/testsupport"
)

func newAPITestServer(t *testing.T) (*httptest.Server, *engine.Engine) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIToken = "secret"
	cfg.Origin.TriggerDelayMS = 0

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	eng := engine.New(cfg, st, notifications.NewService(cfg), nil, logging.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = eng.Run(ctx) }()

	api := newAPIServer(cfg, eng, logging.NewNop())
	server := httptest.NewServer(api.handler())
	t.Cleanup(server.Close)
	return server, eng
}

func postJSON(t *testing.T, url, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestWebhookRequiresToken(t *testing.T) {
	server, _ := newAPITestServer(t)

	resp := postJSON(t, server.URL+"/api/events/created", "", `{"event_id":"ev1"}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	resp = postJSON(t, server.URL+"/api/events/created", "wrong", `{"event_id":"ev1"}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", resp.StatusCode)
	}
}

func TestWebhookValidatesPayload(t *testing.T) {
	server, _ := newAPITestServer(t)

	resp := postJSON(t, server.URL+"/api/events/created", "secret", `{"name_hint":"x"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing event_id, got %d", resp.StatusCode)
	}

	resp = postJSON(t, server.URL+"/api/events/terminal", "secret", `{"event_id":"ev1","outcome":"exploded"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown outcome, got %d", resp.StatusCode)
	}

	resp = postJSON(t, server.URL+"/api/events/created", "secret", `{"event_id":"ev1","bogus":true}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", resp.StatusCode)
	}
}

func TestWebhookDrivesTaskLifecycle(t *testing.T) {
	server, eng := newAPITestServer(t)
	ctx := context.Background()

	ids, err := eng.StartTasks(ctx, []engine.OriginSpec{{Label: "Webhook Target"}}, 0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	id := ids[0]
	waitForTaskState(t, eng, id, task.StateInProgress)

	resp := postJSON(t, server.URL+"/api/events/created", "secret",
		`{"event_id":"ev1","name_hint":"Webhook Target.zip"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	resp = postJSON(t, server.URL+"/api/events/terminal", "secret",
		`{"event_id":"ev1","outcome":"complete"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	waitForTaskState(t, eng, id, task.StateComplete)
}

func waitForTaskState(t *testing.T, eng *engine.Engine, id string, want task.State) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		status, err := eng.Status(context.Background())
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		for _, tsk := range status.Tasks {
			if tsk.ID == id && tsk.State == want {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task never reached %s", want)
}
