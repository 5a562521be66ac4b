package handlers

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/Davincible/claude-vllm-proxy/internal/config"
	"github.com/Davincible/claude-vllm-proxy/internal/transform"
	"github.com/Davincible/claude-vllm-proxy/internal/types"
	"github.com/Davincible/claude-vllm-proxy/internal/upstream"
)

// ChatCompletions serves POST /v1/chat/completions: OpenAI in, OpenAI out.
// The request still goes through normalization so Mistral's tool-call ID
// and message-sequence rules hold regardless of the client dialect.
func (h *Handler) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req types.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeOpenAIError(w, http.StatusBadRequest, "invalid_request_error", "invalid JSON body: "+err.Error())
		return
	}

	if len(req.Messages) == 0 {
		h.writeOpenAIError(w, http.StatusBadRequest, "invalid_request_error", "messages must not be empty")
		return
	}

	cfg, err := h.snapshot()
	if err != nil {
		h.writeOpenAIError(w, http.StatusInternalServerError, "api_error", "configuration unavailable")
		return
	}

	selector := cfg.Backends()

	hasImages := transform.ChatRequestHasImages(&req)
	backend := selector.Choose(hasImages)

	chatReq := transform.ChatPipeline(backend.Model)(&req)

	if hasImages && selector.Vision == nil {
		chatReq = transform.StripImages(chatReq)
	}

	auth := upstream.ComposeAuth(backend, r.Header.Get("Authorization"))

	if chatReq.Stream {
		h.streamPassthrough(w, r, cfg, backend.ChatCompletionsURL(), chatReq, auth, chatReq.Model, start)
		return
	}

	data, err := h.client.Call(r.Context(), backend.ChatCompletionsURL(), chatReq, auth)
	if err != nil {
		h.observe(r, cfg, chatReq.Model, http.StatusInternalServerError, start, types.Usage{}, false)
		h.writeOpenAIError(w, http.StatusInternalServerError, "api_error", backendFailureMessage(err))

		return
	}

	usage := extractChatUsage(data)

	h.observe(r, cfg, chatReq.Model, http.StatusOK, start, usage, false)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// Completions serves the legacy text-completions endpoint, mounted at both
// /v1/completions and /completions. The body passes through untouched; only
// routing, auth and accounting happen here.
func (h *Handler) Completions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeOpenAIError(w, http.StatusBadRequest, "invalid_request_error", "failed to read request body")
		return
	}

	var probe struct {
		Model  string `json:"model"`
		Stream bool   `json:"stream"`
	}

	if err := json.Unmarshal(raw, &probe); err != nil {
		h.writeOpenAIError(w, http.StatusBadRequest, "invalid_request_error", "invalid JSON body: "+err.Error())
		return
	}

	cfg, err := h.snapshot()
	if err != nil {
		h.writeOpenAIError(w, http.StatusInternalServerError, "api_error", "configuration unavailable")
		return
	}

	backend := cfg.Backends().Choose(false)
	auth := upstream.ComposeAuth(backend, r.Header.Get("Authorization"))

	model := probe.Model
	if model == "" {
		model = backend.Model
	}

	if probe.Stream {
		h.streamPassthrough(w, r, cfg, backend.CompletionsURL(), json.RawMessage(raw), auth, model, start)
		return
	}

	data, err := h.client.Call(r.Context(), backend.CompletionsURL(), json.RawMessage(raw), auth)
	if err != nil {
		h.observe(r, cfg, model, http.StatusInternalServerError, start, types.Usage{}, false)
		h.writeOpenAIError(w, http.StatusInternalServerError, "api_error", backendFailureMessage(err))

		return
	}

	usage := extractChatUsage(data)

	h.observe(r, cfg, model, http.StatusOK, start, usage, false)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// streamPassthrough relays an OpenAI-dialect SSE stream without reshaping
// it. Headers wait for the first upstream byte, same as the translated path.
func (h *Handler) streamPassthrough(w http.ResponseWriter, r *http.Request, cfg *config.Config, url string, body any, auth, model string, start time.Time) {
	upstreamBody, err := h.client.Stream(r.Context(), url, body, auth)
	if err != nil {
		h.observe(r, cfg, model, http.StatusInternalServerError, start, types.Usage{}, true)
		h.writeOpenAIError(w, http.StatusInternalServerError, "api_error", backendFailureMessage(err))

		return
	}
	defer upstreamBody.Close()

	reader := bufio.NewReader(upstreamBody)

	if _, err := reader.Peek(1); err != nil {
		h.observe(r, cfg, model, http.StatusInternalServerError, start, types.Usage{}, true)
		h.writeOpenAIError(w, http.StatusInternalServerError, "api_error", "backend closed the stream before sending data")

		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)

	buf := make([]byte, 4096)

	for {
		n, err := reader.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				break
			}

			if flusher != nil {
				flusher.Flush()
			}
		}

		if err != nil {
			if err != io.EOF {
				h.logger.Warn("Upstream stream read failed", "error", err, "model", model)
			}

			break
		}
	}

	h.observe(r, cfg, model, http.StatusOK, start, types.Usage{}, true)
}

// extractChatUsage pulls the usage block out of a raw backend response for
// accounting; absent or malformed usage counts as zero.
func extractChatUsage(data []byte) types.Usage {
	var resp struct {
		Usage *types.ChatUsage `json:"usage"`
	}

	if err := json.Unmarshal(data, &resp); err != nil || resp.Usage == nil {
		return types.Usage{}
	}

	return types.Usage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
}
