package handlers

import (
	"net/http"
	"time"

	"github.com/Davincible/claude-vllm-proxy/internal/types"
)

// Models serves GET /v1/models with the configured backend model, so
// clients that probe for availability see exactly what they will get.
func (h *Handler) Models(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.snapshot()
	if err != nil {
		h.writeOpenAIError(w, http.StatusInternalServerError, "api_error", "configuration unavailable")
		return
	}

	model := cfg.VLLMModel
	if model == "" {
		model = "default"
	}

	writeJSON(w, http.StatusOK, types.ModelList{
		Object: "list",
		Data: []types.Model{{
			ID:      model,
			Object:  "model",
			Created: time.Now().Unix(),
			OwnedBy: "vllm",
		}},
	})
}

// Health serves GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Stats serves GET /stats from the telemetry ring buffer.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.telemetry.Snapshot())
}
