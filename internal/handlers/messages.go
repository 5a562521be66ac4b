package handlers

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Davincible/claude-vllm-proxy/internal/config"
	"github.com/Davincible/claude-vllm-proxy/internal/stream"
	"github.com/Davincible/claude-vllm-proxy/internal/tokencount"
	"github.com/Davincible/claude-vllm-proxy/internal/transform"
	"github.com/Davincible/claude-vllm-proxy/internal/types"
	"github.com/Davincible/claude-vllm-proxy/internal/upstream"
)

// Messages serves POST /v1/messages: Anthropic in, Anthropic out, with the
// backend speaking Chat Completions in between.
func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req types.MessagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeAnthropicError(w, http.StatusBadRequest, "invalid_request_error", "invalid JSON body: "+err.Error())
		return
	}

	if len(req.Messages) == 0 {
		h.writeAnthropicError(w, http.StatusBadRequest, "invalid_request_error", "messages must not be empty")
		return
	}

	cfg, err := h.snapshot()
	if err != nil {
		h.writeAnthropicError(w, http.StatusInternalServerError, "api_error", "configuration unavailable")
		return
	}

	selector := cfg.Backends()

	hasImages := transform.MessagesRequestHasImages(&req)
	useVision := hasImages && selector.Vision != nil
	backend := selector.Choose(hasImages)

	chatReq, err := transform.AnthropicToOpenAI(&req, transform.RequestOptions{
		Model:  backend.Model,
		Vision: useVision,
	})
	if err != nil {
		h.writeAnthropicError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}

	// Images with no vision backend configured: history images become
	// placeholders, current ones are dropped.
	if hasImages && !useVision {
		chatReq = transform.StripImages(chatReq)
	}

	auth := upstream.ComposeAuth(backend, r.Header.Get("Authorization"))
	inputEstimate := tokencount.CountRequest(&req)

	if req.Stream {
		h.streamMessages(w, r, cfg, backend, chatReq, auth, inputEstimate, start)
		return
	}

	data, err := h.client.Call(r.Context(), backend.ChatCompletionsURL(), chatReq, auth)
	if err != nil {
		h.observe(r, cfg, chatReq.Model, http.StatusInternalServerError, start, types.Usage{}, false)
		h.writeAnthropicError(w, http.StatusInternalServerError, "api_error", backendFailureMessage(err))

		return
	}

	var chatResp types.ChatResponse
	if err := json.Unmarshal(data, &chatResp); err != nil {
		h.observe(r, cfg, chatReq.Model, http.StatusInternalServerError, start, types.Usage{}, false)
		h.writeAnthropicError(w, http.StatusInternalServerError, "api_error", "invalid JSON from backend")

		return
	}

	out, err := transform.OpenAIToAnthropic(&chatResp, chatReq.Model)
	if err != nil {
		h.observe(r, cfg, chatReq.Model, http.StatusInternalServerError, start, types.Usage{}, false)
		h.writeAnthropicError(w, http.StatusInternalServerError, "api_error", err.Error())

		return
	}

	if out.ID == "" {
		out.ID = newMessageID()
	}

	if out.Usage.InputTokens == 0 {
		out.Usage.InputTokens = inputEstimate
	}

	h.observe(r, cfg, chatReq.Model, http.StatusOK, start, out.Usage, false)
	writeJSON(w, http.StatusOK, out)
}

// streamMessages proxies one streaming request, translating the upstream
// chunk stream into Anthropic SSE frames. Response headers wait for the
// first upstream byte so a backend that dies immediately still gets a JSON
// error instead of a broken event stream.
func (h *Handler) streamMessages(w http.ResponseWriter, r *http.Request, cfg *config.Config, backend upstream.Backend, chatReq *types.ChatRequest, auth string, inputEstimate int, start time.Time) {
	body, err := h.client.Stream(r.Context(), backend.ChatCompletionsURL(), chatReq, auth)
	if err != nil {
		h.observe(r, cfg, chatReq.Model, http.StatusInternalServerError, start, types.Usage{}, true)
		h.writeAnthropicError(w, http.StatusInternalServerError, "api_error", backendFailureMessage(err))

		return
	}
	defer body.Close()

	reader := bufio.NewReader(body)

	if _, err := reader.Peek(1); err != nil {
		h.observe(r, cfg, chatReq.Model, http.StatusInternalServerError, start, types.Usage{}, true)
		h.writeAnthropicError(w, http.StatusInternalServerError, "api_error", "backend closed the stream before sending data")

		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)

	translator := stream.New(stream.Options{
		Model:       chatReq.Model,
		MessageID:   newMessageID(),
		InputTokens: inputEstimate,
	})

	write := func(frames []byte) bool {
		if len(frames) == 0 {
			return true
		}

		if _, err := w.Write(frames); err != nil {
			return false
		}

		if flusher != nil {
			flusher.Flush()
		}

		return true
	}

	if !write(translator.Start()) {
		return
	}

	buf := make([]byte, 4096)

	for {
		n, err := reader.Read(buf)
		if n > 0 {
			if !write(translator.Feed(buf[:n])) {
				// Client went away; the deferred Close cancels upstream.
				h.observe(r, cfg, chatReq.Model, http.StatusOK, start, translator.Usage(), true)
				return
			}
		}

		if err != nil {
			if err != io.EOF {
				h.logger.Warn("Upstream stream read failed", "error", err, "model", chatReq.Model)
			}

			break
		}
	}

	write(translator.Finish())
	h.observe(r, cfg, chatReq.Model, http.StatusOK, start, translator.Usage(), true)
}

// CountTokens serves POST /v1/messages/count_tokens with a local estimate;
// nothing is sent upstream.
func (h *Handler) CountTokens(w http.ResponseWriter, r *http.Request) {
	var req types.CountTokensRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeAnthropicError(w, http.StatusBadRequest, "invalid_request_error", "invalid JSON body: "+err.Error())
		return
	}

	total := tokencount.CountRequest(&types.MessagesRequest{
		Model:    req.Model,
		Messages: req.Messages,
		System:   req.System,
		Tools:    req.Tools,
	})

	writeJSON(w, http.StatusOK, types.CountTokensResponse{InputTokens: total})
}

func newMessageID() string {
	return "msg_" + uuid.NewString()
}
