// Package upstream talks to the OpenAI-compatible inference backends: a
// JSON call path, a raw streaming path, backend selection, and the auth
// composition rules for internal vs external backends.
package upstream

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/andybalholm/brotli"

	"github.com/Davincible/claude-vllm-proxy/internal/types"
)

const bodyPreviewLimit = 500

// BackendError is a non-2xx or transport failure from the backend. The body
// preview is capped so upstream stack traces never flood client responses.
type BackendError struct {
	Status      int
	BodyPreview string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend returned status %d: %s", e.Status, e.BodyPreview)
}

type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient builds a backend client. The HTTP client carries no timeout;
// inference requests legitimately run for minutes and cancellation comes
// from the request context.
func NewClient(logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// Call POSTs body as JSON and returns the decompressed response bytes.
// auth, when non-empty, is sent as the Authorization header with a Bearer
// prefix added if missing.
func (c *Client) Call(ctx context.Context, url string, body any, auth string) ([]byte, error) {
	resp, err := c.post(ctx, url, body, auth)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	reader, err := decompressReader(resp)
	if err != nil {
		return nil, fmt.Errorf("decompress upstream response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.backendError(url, resp.StatusCode, reader, body)
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read upstream response: %w", err)
	}

	return data, nil
}

// Stream POSTs body as JSON and returns the decompressed response body as a
// lazy single-consumer reader. The caller owns the reader and must close it
// on every exit path.
func (c *Client) Stream(ctx context.Context, url string, body any, auth string) (io.ReadCloser, error) {
	resp, err := c.post(ctx, url, body, auth)
	if err != nil {
		return nil, err
	}

	reader, err := decompressReader(resp)
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("decompress upstream response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, c.backendError(url, resp.StatusCode, reader, body)
	}

	return &streamBody{reader: reader, closer: resp.Body}, nil
}

func (c *Client) post(ctx context.Context, url string, body any, auth string) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal upstream request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create upstream request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if auth != "" {
		req.Header.Set("Authorization", EnsureBearer(auth))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}

	return resp, nil
}

func (c *Client) backendError(url string, status int, body io.Reader, request any) error {
	preview, _ := io.ReadAll(io.LimitReader(body, bodyPreviewLimit))

	fields := []any{
		"url", url,
		"status", status,
		"body", string(preview),
	}
	fields = append(fields, describeRequest(request)...)

	c.logger.Error("Upstream error response", fields...)

	return &BackendError{Status: status, BodyPreview: string(preview)}
}

// describeRequest pulls the diagnostic fields out of a chat request so
// sequence-rule rejections can be debugged from logs alone.
func describeRequest(request any) []any {
	req, ok := request.(*types.ChatRequest)
	if !ok || req == nil {
		return nil
	}

	lastRole := ""
	hasToolCalls := false

	if n := len(req.Messages); n > 0 {
		lastRole = req.Messages[n-1].Role
	}

	for _, msg := range req.Messages {
		if len(msg.ToolCalls) > 0 {
			hasToolCalls = true
			break
		}
	}

	return []any{
		"model", req.Model,
		"message_count", len(req.Messages),
		"last_role", lastRole,
		"has_tool_calls", hasToolCalls,
	}
}

// streamBody pairs the decompressing reader with the network body so a
// single Close releases both.
type streamBody struct {
	reader io.Reader
	closer io.Closer
}

func (s *streamBody) Read(p []byte) (int, error) {
	return s.reader.Read(p)
}

func (s *streamBody) Close() error {
	if c, ok := s.reader.(io.Closer); ok {
		c.Close()
	}

	return s.closer.Close()
}

func decompressReader(resp *http.Response) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		return gzip.NewReader(resp.Body)
	case "br":
		return brotli.NewReader(resp.Body), nil
	default:
		return resp.Body, nil
	}
}
