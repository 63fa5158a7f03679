// Package webhook implements the media-server webhook ingress adapter of
// spec §4.6/§6.3: an HTTP endpoint that accepts a schema-validated payload
// and translates it to a canonical SUBTITLE_REQUESTED event. Grounded on
// the teacher's internal/server handlers (validator.Struct for request
// validation, a plain http.ServeMux with Go 1.22 method-path patterns, and
// a writeJSON/writeError response pair).
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/yairabf/subtitlex/internal/ingress"
	"github.com/yairabf/subtitlex/internal/observability/logging"
)

// HealthChecker reports whether a dependency the webhook relies on (the
// event bus, the job store) is currently healthy. Satisfied by
// *connsupervisor.Supervisor.
type HealthChecker interface {
	Healthy(ctx context.Context) bool
}

// Config parameterizes the webhook handler per spec §4.6/§6.3.
type Config struct {
	// SharedSecret, if non-empty, is compared against the X-Webhook-Secret
	// request header on every call (spec §6.3: "401 on bad shared secret
	// (optional, if configured)").
	SharedSecret string

	// ActionableEventTypes are the event_type values that result in a
	// SUBTITLE_REQUESTED publication; any other value gets status "ignored".
	// Defaults to a single media-added event type.
	ActionableEventTypes map[string]bool

	HealthCheckers []HealthChecker
	Logger         *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.ActionableEventTypes == nil {
		c.ActionableEventTypes = map[string]bool{"media.added": true}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Handler serves POST /webhooks/{source}.
type Handler struct {
	publisher *ingress.Publisher
	validate  *validator.Validate
	cfg       Config
}

// New constructs a Handler.
func New(publisher *ingress.Publisher, cfg Config) *Handler {
	return &Handler{publisher: publisher, validate: validator.New(), cfg: cfg.withDefaults()}
}

// Routes returns the webhook endpoint wrapped in request-logging middleware
// so every call is logged with method, path, status, and a request ID
// regardless of which branch of handle returns first.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhooks/{source}", h.handle)
	return logging.RequestLogger(logging.RequestLoggerConfig{Logger: h.cfg.Logger})(mux)
}

type requestBody struct {
	EventType  string `json:"event_type" validate:"required"`
	VideoURL   string `json:"video_url" validate:"required"`
	VideoTitle string `json:"video_title" validate:"required"`
	Language   string `json:"language" validate:"required,len=2"`
}

type response struct {
	Status string `json:"status"`
	JobID  string `json:"job_id,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (h *Handler) handle(w http.ResponseWriter, r *http.Request) {
	source := r.PathValue("source")
	logger := logging.WithContext(r.Context(), h.cfg.Logger).With("component", "webhook", "source", source)

	provided := r.Header.Get("X-Webhook-Secret")
	if h.cfg.SharedSecret != "" && subtle.ConstantTimeCompare([]byte(provided), []byte(h.cfg.SharedSecret)) != 1 {
		logger.Warn("webhook request rejected: bad shared secret")
		writeJSON(w, http.StatusUnauthorized, response{Status: "error", Error: "invalid shared secret"})
		return
	}

	for _, hc := range h.cfg.HealthCheckers {
		if !hc.Healthy(r.Context()) {
			logger.Warn("webhook request rejected: dependency unhealthy")
			writeJSON(w, http.StatusServiceUnavailable, response{Status: "error", Error: "service unavailable"})
			return
		}
	}

	var body requestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		logger.Warn("malformed webhook body", "error", err)
		writeJSON(w, http.StatusUnprocessableEntity, response{Status: "error", Error: "invalid JSON body"})
		return
	}
	if err := h.validate.Struct(body); err != nil {
		logger.Warn("webhook payload failed validation", "error", err)
		writeJSON(w, http.StatusUnprocessableEntity, response{Status: "error", Error: err.Error()})
		return
	}

	if !h.cfg.ActionableEventTypes[body.EventType] {
		writeJSON(w, http.StatusOK, response{Status: "ignored"})
		return
	}

	jobID, outcome, err := h.publisher.Submit(r.Context(), ingress.Request{
		VideoURL:   body.VideoURL,
		VideoTitle: body.VideoTitle,
		Language:   body.Language,
		Metadata:   map[string]string{"source": source, "event_type": body.EventType},
	})
	if err != nil {
		logger.Error("ingress submit failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, response{Status: "error", Error: "unable to accept request"})
		return
	}

	writeJSON(w, http.StatusOK, response{Status: string(outcome), JobID: jobID})
}

func writeJSON(w http.ResponseWriter, status int, body response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
