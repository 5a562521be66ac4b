package upstream

import (
	"net/url"
	"strings"
)

// internalSuffix marks in-cluster backends that sit behind the mesh; those
// never receive client credentials.
const internalSuffix = ".cluster.local"

// Backend is one configured inference endpoint.
type Backend struct {
	URL    string
	APIKey string
	Model  string
}

// ChatCompletionsURL returns the chat completions endpoint for the backend.
func (b Backend) ChatCompletionsURL() string {
	return strings.TrimRight(b.URL, "/") + "/v1/chat/completions"
}

// CompletionsURL returns the legacy text completions endpoint.
func (b Backend) CompletionsURL() string {
	return strings.TrimRight(b.URL, "/") + "/v1/completions"
}

// ModelsURL returns the model listing endpoint.
func (b Backend) ModelsURL() string {
	return strings.TrimRight(b.URL, "/") + "/v1/models"
}

// Internal reports whether the backend host is in-cluster.
func (b Backend) Internal() bool {
	u, err := url.Parse(b.URL)
	if err != nil {
		return false
	}

	return strings.HasSuffix(u.Hostname(), internalSuffix)
}

// Selector routes requests between the default backend and an optional
// vision-capable one.
type Selector struct {
	Default Backend
	Vision  *Backend
}

// Choose returns the vision backend for image-bearing requests when one is
// configured, the default backend otherwise.
func (s Selector) Choose(hasImages bool) Backend {
	if hasImages && s.Vision != nil {
		return *s.Vision
	}

	return s.Default
}

// ComposeAuth decides what goes in the Authorization header for a backend
// call. In-cluster backends only ever see their own configured key. External
// backends use their configured key, falling back to the credentials the
// client sent with the inbound request.
func ComposeAuth(b Backend, clientAuth string) string {
	if b.Internal() {
		return b.APIKey
	}

	if b.APIKey != "" {
		return b.APIKey
	}

	return clientAuth
}

// EnsureBearer prepends the Bearer scheme when the token lacks one.
func EnsureBearer(token string) string {
	if token == "" || strings.HasPrefix(token, "Bearer ") {
		return token
	}

	return "Bearer " + token
}
