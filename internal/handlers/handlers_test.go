package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Davincible/claude-vllm-proxy/internal/config"
	"github.com/Davincible/claude-vllm-proxy/internal/metrics"
	"github.com/Davincible/claude-vllm-proxy/internal/telemetry"
	"github.com/Davincible/claude-vllm-proxy/internal/types"
	"github.com/Davincible/claude-vllm-proxy/internal/upstream"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHandler(t *testing.T, backend http.HandlerFunc) *Handler {
	t.Helper()

	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	manager := config.NewManager()
	manager.Set(&config.Config{
		VLLMURL:          srv.URL,
		VLLMModel:        "devstral-small",
		TelemetryEnabled: true,
	})

	logger := testLogger()

	return New(manager, upstream.NewClient(logger), metrics.New(), telemetry.NewCollector("", logger), logger)
}

func postJSON(t *testing.T, handler http.HandlerFunc, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	handler(rec, req)

	return rec
}

func TestMessages_NonStreaming(t *testing.T) {
	var captured types.ChatRequest

	h := newTestHandler(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		json.NewEncoder(w).Encode(map[string]any{
			"id": "chatcmpl-1",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": "Hello"},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 5, "completion_tokens": 2},
		})
	})

	rec := postJSON(t, h.Messages, "/v1/messages",
		`{"model":"claude-sonnet","max_tokens":100,"messages":[{"role":"user","content":"Hi"}]}`)

	require.Equal(t, http.StatusOK, rec.Code)

	// The configured backend model replaces the declared one.
	assert.Equal(t, "devstral-small", captured.Model)

	var out types.MessagesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))

	assert.Equal(t, "chatcmpl-1", out.ID)
	assert.Equal(t, "assistant", out.Role)
	require.Len(t, out.Content, 1)
	assert.Equal(t, "Hello", out.Content[0].Text)
	require.NotNil(t, out.StopReason)
	assert.Equal(t, "end_turn", *out.StopReason)
	assert.Equal(t, 5, out.Usage.InputTokens)
}

func TestMessages_Streaming(t *testing.T) {
	h := newTestHandler(t, func(w http.ResponseWriter, r *http.Request) {
		var req types.ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		// Streaming requests must ask the backend for usage frames.
		require.NotNil(t, req.StreamOptions)
		assert.True(t, req.StreamOptions.IncludeUsage)

		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, `data: {"choices":[{"index":0,"delta":{"role":"assistant","content":"Hi"},"finish_reason":null}]}`+"\n\n")
		io.WriteString(w, `data: {"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`+"\n\n")
		io.WriteString(w, `data: {"choices":[],"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`+"\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
	})

	rec := postJSON(t, h.Messages, "/v1/messages",
		`{"model":"claude-sonnet","max_tokens":100,"stream":true,"messages":[{"role":"user","content":"Hi"}]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "event: message_start")
	assert.Contains(t, body, `"text":"Hi"`)
	assert.Contains(t, body, "event: message_delta")
	assert.True(t, strings.HasSuffix(body, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n"))
}

func TestMessages_ValidationErrors(t *testing.T) {
	h := newTestHandler(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("backend must not be called")
	})

	rec := postJSON(t, h.Messages, "/v1/messages", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_request_error")

	rec = postJSON(t, h.Messages, "/v1/messages", `{"model":"m","messages":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "messages must not be empty")
}

func TestMessages_BackendError(t *testing.T) {
	h := newTestHandler(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":"invalid sequence"}`)
	})

	rec := postJSON(t, h.Messages, "/v1/messages",
		`{"model":"m","messages":[{"role":"user","content":"Hi"}]}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var errResp types.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "api_error", errResp.Error.Type)
	assert.Contains(t, errResp.Error.Message, "invalid sequence")
}

func TestMessages_StreamingBackendError(t *testing.T) {
	h := newTestHandler(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, "overloaded")
	})

	rec := postJSON(t, h.Messages, "/v1/messages",
		`{"model":"m","stream":true,"messages":[{"role":"user","content":"Hi"}]}`)

	// The failure arrives before SSE headers, so the client sees JSON.
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
}

func TestCountTokens(t *testing.T) {
	h := newTestHandler(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("count_tokens must not call the backend")
	})

	rec := postJSON(t, h.CountTokens, "/v1/messages/count_tokens",
		`{"model":"m","messages":[{"role":"user","content":"The quick brown fox jumps over the lazy dog"}]}`)

	require.Equal(t, http.StatusOK, rec.Code)

	var out types.CountTokensResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Greater(t, out.InputTokens, 0)
}

func TestChatCompletions_Passthrough(t *testing.T) {
	h := newTestHandler(t, func(w http.ResponseWriter, r *http.Request) {
		var req types.ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "devstral-small", req.Model)

		io.WriteString(w, `{"id":"chatcmpl-2","choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}],"usage":{"prompt_tokens":2,"completion_tokens":1}}`)
	})

	rec := postJSON(t, h.ChatCompletions, "/v1/chat/completions",
		`{"messages":[{"role":"user","content":"Hi"}]}`)

	require.Equal(t, http.StatusOK, rec.Code)

	// The backend response passes through unreshaped.
	assert.Contains(t, rec.Body.String(), `"id":"chatcmpl-2"`)
}

func TestChatCompletions_NormalizesToolCallIDs(t *testing.T) {
	var captured types.ChatRequest

	h := newTestHandler(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		io.WriteString(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}]}`)
	})

	rec := postJSON(t, h.ChatCompletions, "/v1/chat/completions",
		`{"messages":[
			{"role":"user","content":"run it"},
			{"role":"assistant","tool_calls":[{"id":"call_abc123xyz","type":"function","function":{"name":"bash","arguments":"{}"}}]},
			{"role":"tool","tool_call_id":"call_abc123xyz","content":"done"}
		]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, captured.Messages, 3)

	id := captured.Messages[1].ToolCalls[0].ID
	assert.Regexp(t, `^[A-Za-z0-9]{9}$`, id)
	assert.Equal(t, id, captured.Messages[2].ToolCallID)
}

func TestCompletions_Passthrough(t *testing.T) {
	var capturedPath string
	var capturedBody []byte

	h := newTestHandler(t, func(w http.ResponseWriter, r *http.Request) {
		capturedPath = r.URL.Path
		capturedBody, _ = io.ReadAll(r.Body)
		io.WriteString(w, `{"id":"cmpl-1","choices":[{"text":"done"}]}`)
	})

	body := `{"model":"devstral-small","prompt":"def add(a, b):","max_tokens":32}`
	rec := postJSON(t, h.Completions, "/v1/completions", body)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/v1/completions", capturedPath)

	// Byte-for-byte forwarding.
	assert.Equal(t, body, string(capturedBody))
	assert.Contains(t, rec.Body.String(), `"id":"cmpl-1"`)
}

func TestModels(t *testing.T) {
	h := newTestHandler(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("models must not call the backend")
	})

	rec := httptest.NewRecorder()
	h.Models(rec, httptest.NewRequest(http.MethodGet, "/v1/models", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var out types.ModelList
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Data, 1)
	assert.Equal(t, "devstral-small", out.Data[0].ID)
	assert.Equal(t, "vllm", out.Data[0].OwnedBy)
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t, nil)

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStats(t *testing.T) {
	h := newTestHandler(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"id":"chatcmpl-1","choices":[{"index":0,"message":{"role":"assistant","content":"Hello"},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":2}}`)
	})

	postJSON(t, h.Messages, "/v1/messages",
		`{"model":"m","messages":[{"role":"user","content":"Hi"}]}`)

	rec := httptest.NewRecorder()
	h.Stats(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var snap telemetry.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, 1, snap.TotalRequests)
	assert.Equal(t, 5, snap.TotalInputTokens)
}
