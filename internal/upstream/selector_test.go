package upstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBackendURLs(t *testing.T) {
	b := Backend{URL: "http://vllm.ns.svc.cluster.local:8000/"}

	assert.Equal(t, "http://vllm.ns.svc.cluster.local:8000/v1/chat/completions", b.ChatCompletionsURL())
	assert.Equal(t, "http://vllm.ns.svc.cluster.local:8000/v1/completions", b.CompletionsURL())
	assert.Equal(t, "http://vllm.ns.svc.cluster.local:8000/v1/models", b.ModelsURL())
}

func TestBackendInternal(t *testing.T) {
	assert.True(t, Backend{URL: "http://vllm.ns.svc.cluster.local:8000"}.Internal())
	assert.False(t, Backend{URL: "https://api.mistral.ai"}.Internal())
	assert.False(t, Backend{URL: "://bad"}.Internal())
}

func TestSelectorChoose(t *testing.T) {
	def := Backend{URL: "http://default:8000", Model: "devstral"}
	vision := Backend{URL: "http://vision:8000", Model: "pixtral"}

	s := Selector{Default: def, Vision: &vision}
	assert.Equal(t, vision, s.Choose(true))
	assert.Equal(t, def, s.Choose(false))

	// No vision backend configured: images still go to the default.
	s = Selector{Default: def}
	assert.Equal(t, def, s.Choose(true))
}

func TestComposeAuth(t *testing.T) {
	internal := Backend{URL: "http://vllm.ns.svc.cluster.local:8000", APIKey: "backend-key"}
	external := Backend{URL: "https://api.example.com", APIKey: "backend-key"}
	externalNoKey := Backend{URL: "https://api.example.com"}

	// Internal backends never see client credentials.
	assert.Equal(t, "backend-key", ComposeAuth(internal, "Bearer client-key"))

	// External backends prefer their own key, fall back to the client's.
	assert.Equal(t, "backend-key", ComposeAuth(external, "Bearer client-key"))
	assert.Equal(t, "Bearer client-key", ComposeAuth(externalNoKey, "Bearer client-key"))
	assert.Equal(t, "", ComposeAuth(externalNoKey, ""))
}

func TestEnsureBearer(t *testing.T) {
	assert.Equal(t, "Bearer abc", EnsureBearer("abc"))
	assert.Equal(t, "Bearer abc", EnsureBearer("Bearer abc"))
	assert.Equal(t, "", EnsureBearer(""))
}
