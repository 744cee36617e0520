package daemon

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"taskwatch/internal/config"
	"taskwatch/internal/engine"
	"taskwatch/internal/logging"
)

// apiServer receives download-subsystem webhooks and translates them into
// engine events.
type apiServer struct {
	bind   string
	token  string
	engine *engine.Engine
	logger *slog.Logger
}

func newAPIServer(cfg *config.Config, eng *engine.Engine, logger *slog.Logger) *apiServer {
	return &apiServer{
		bind:   cfg.Paths.APIBind,
		token:  strings.TrimSpace(cfg.Paths.APIToken),
		engine: eng,
		logger: logging.WithComponent(logger, "api"),
	}
}

func (a *apiServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/events/created", a.authorized(a.handleEventCreated))
	mux.HandleFunc("POST /api/events/name", a.authorized(a.handleEventName))
	mux.HandleFunc("POST /api/events/terminal", a.authorized(a.handleEventTerminal))
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

func (a *apiServer) run(ctx context.Context) error {
	server := &http.Server{
		Addr:              a.bind,
		Handler:           a.handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("webhook API listening", logging.String("bind", a.bind))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (a *apiServer) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.token != "" {
			header := r.Header.Get("Authorization")
			want := "Bearer " + a.token
			if subtle.ConstantTimeCompare([]byte(header), []byte(want)) != 1 {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
		}
		next(w, r)
	}
}

type eventCreatedPayload struct {
	EventID   string `json:"event_id"`
	NameHint  string `json:"name_hint"`
	SourceRef string `json:"source_ref"`
}

type eventNamePayload struct {
	EventID string `json:"event_id"`
	Name    string `json:"name"`
}

type eventTerminalPayload struct {
	EventID     string `json:"event_id"`
	Outcome     string `json:"outcome"`
	ErrorDetail string `json:"error_detail"`
}

func (a *apiServer) handleEventCreated(w http.ResponseWriter, r *http.Request) {
	var payload eventCreatedPayload
	if !decodePayload(w, r, &payload) {
		return
	}
	if payload.EventID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "event_id is required"})
		return
	}
	if err := a.engine.HandleEventCreated(r.Context(), payload.EventID, payload.NameHint, payload.SourceRef); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (a *apiServer) handleEventName(w http.ResponseWriter, r *http.Request) {
	var payload eventNamePayload
	if !decodePayload(w, r, &payload) {
		return
	}
	if payload.EventID == "" || payload.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "event_id and name are required"})
		return
	}
	if err := a.engine.HandleEventName(r.Context(), payload.EventID, payload.Name); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (a *apiServer) handleEventTerminal(w http.ResponseWriter, r *http.Request) {
	var payload eventTerminalPayload
	if !decodePayload(w, r, &payload) {
		return
	}
	if payload.EventID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "event_id is required"})
		return
	}
	outcome := engine.TerminalOutcome(payload.Outcome)
	switch outcome {
	case engine.OutcomeComplete, engine.OutcomeInterrupted:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "outcome must be complete or interrupted"})
		return
	}
	if err := a.engine.HandleEventTerminal(r.Context(), payload.EventID, outcome, payload.ErrorDetail); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func decodePayload(w http.ResponseWriter, r *http.Request, dest any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
