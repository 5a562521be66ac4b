// Package handlers implements the HTTP surface: the Anthropic Messages
// endpoint with full protocol translation, the OpenAI-compatible endpoints,
// token counting, and the operational routes.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Davincible/claude-vllm-proxy/internal/config"
	"github.com/Davincible/claude-vllm-proxy/internal/identity"
	"github.com/Davincible/claude-vllm-proxy/internal/metrics"
	"github.com/Davincible/claude-vllm-proxy/internal/telemetry"
	"github.com/Davincible/claude-vllm-proxy/internal/types"
	"github.com/Davincible/claude-vllm-proxy/internal/upstream"
)

type Handler struct {
	manager   *config.Manager
	client    *upstream.Client
	metrics   *metrics.Metrics
	telemetry *telemetry.Collector
	logger    *slog.Logger
}

func New(manager *config.Manager, client *upstream.Client, m *metrics.Metrics, tel *telemetry.Collector, logger *slog.Logger) *Handler {
	return &Handler{
		manager:   manager,
		client:    client,
		metrics:   m,
		telemetry: tel,
		logger:    logger,
	}
}

// snapshot resolves the active config. Requests always see one consistent
// snapshot; a reload between requests never tears a request in half.
func (h *Handler) snapshot() (*config.Config, error) {
	return h.manager.Get()
}

// backendFailureMessage keeps upstream detail available to the client while
// the preview cap in upstream.BackendError bounds its size.
func backendFailureMessage(err error) string {
	var backendErr *upstream.BackendError
	if errors.As(err, &backendErr) {
		return backendErr.Error()
	}

	return "upstream request failed"
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeAnthropicError writes the Anthropic-shape error envelope.
func (h *Handler) writeAnthropicError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, types.NewErrorResponse(errType, message))
}

// writeOpenAIError writes the OpenAI-shape error envelope.
func (h *Handler) writeOpenAIError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, types.NewChatErrorResponse(errType, message))
}

// observe records one finished request in metrics and telemetry.
func (h *Handler) observe(r *http.Request, cfg *config.Config, model string, status int, start time.Time, usage types.Usage, streaming bool) {
	user := identity.FromAuthHeader(r.Header.Get("Authorization"))
	duration := time.Since(start)

	h.metrics.ObserveRequest(user, model, r.URL.Path, status, duration)
	h.metrics.ObserveTokens(user, model, usage.InputTokens, usage.OutputTokens)

	if cfg.TelemetryEnabled {
		h.telemetry.Add(telemetry.Record{
			Timestamp:    start,
			User:         user,
			Model:        model,
			Endpoint:     r.URL.Path,
			Status:       status,
			DurationMS:   duration.Milliseconds(),
			InputTokens:  usage.InputTokens,
			OutputTokens: usage.OutputTokens,
			Streaming:    streaming,
		})
	}
}
