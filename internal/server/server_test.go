package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Davincible/claude-vllm-proxy/internal/config"
)

func newTestServer(t *testing.T, apiKey string) http.Handler {
	t.Helper()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"id":"chatcmpl-1","choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}]}`)
	}))
	t.Cleanup(backend.Close)

	cfg := &config.Config{
		Host:      "127.0.0.1",
		Port:      3456,
		APIKey:    apiKey,
		VLLMURL:   backend.URL,
		VLLMModel: "devstral-small",
	}

	manager := config.NewManager()
	manager.Set(cfg)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return New(manager, logger).routes(cfg)
}

func TestRoutes(t *testing.T) {
	handler := newTestServer(t, "")

	tests := []struct {
		method   string
		path     string
		body     string
		expected int
	}{
		{http.MethodPost, "/v1/messages", `{"model":"m","messages":[{"role":"user","content":"hi"}]}`, http.StatusOK},
		{http.MethodPost, "/v1/messages/count_tokens", `{"messages":[{"role":"user","content":"hi"}]}`, http.StatusOK},
		{http.MethodPost, "/v1/chat/completions", `{"messages":[{"role":"user","content":"hi"}]}`, http.StatusOK},
		{http.MethodGet, "/v1/models", "", http.StatusOK},
		{http.MethodGet, "/health", "", http.StatusOK},
		{http.MethodGet, "/stats", "", http.StatusOK},
		{http.MethodGet, "/metrics", "", http.StatusOK},
		{http.MethodGet, "/v1/messages", "", http.StatusMethodNotAllowed},
		{http.MethodGet, "/nope", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.expected, rec.Code)
		})
	}
}

func TestRoutesAuth(t *testing.T) {
	handler := newTestServer(t, "gateway-key")

	// Inference endpoints require the key.
	req := httptest.NewRequest(http.MethodPost, "/v1/messages",
		strings.NewReader(`{"model":"m","messages":[{"role":"user","content":"hi"}]}`))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/messages",
		strings.NewReader(`{"model":"m","messages":[{"role":"user","content":"hi"}]}`))
	req.Header.Set("x-api-key", "gateway-key")

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Operational endpoints stay open.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsExposition(t *testing.T) {
	handler := newTestServer(t, "")

	// One request, then scrape.
	req := httptest.NewRequest(http.MethodPost, "/v1/messages",
		strings.NewReader(`{"model":"m","messages":[{"role":"user","content":"hi"}]}`))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "llm_requests_total")
	assert.Contains(t, rec.Body.String(), `endpoint="/v1/messages"`)
}
