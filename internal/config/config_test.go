package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setEnv(t *testing.T) {
	t.Helper()

	t.Setenv("VLLM_URL", "http://vllm.ns.svc.cluster.local:8000")
	t.Setenv("VLLM_API_KEY", "backend-key")
	t.Setenv("VLLM_MODEL", "devstral-small")
}

func TestLoadDefaults(t *testing.T) {
	setEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 3456, cfg.Port)
	assert.Equal(t, "0.0.0.0:3456", cfg.Addr())
	assert.True(t, cfg.TelemetryEnabled)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "http://vllm.ns.svc.cluster.local:8000", cfg.VLLMURL)
}

func TestLoadOverrides(t *testing.T) {
	setEnv(t)
	t.Setenv("PORT", "8080")
	t.Setenv("HOST", "127.0.0.1")
	t.Setenv("TELEMETRY_ENABLED", "false")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.Addr())
	assert.False(t, cfg.TelemetryEnabled)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadRequiresBackendURL(t *testing.T) {
	t.Setenv("VLLM_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "VLLM_URL")
}

func TestValidate(t *testing.T) {
	base := Config{VLLMURL: "http://localhost:8000", Port: 3456}
	assert.NoError(t, base.Validate())

	bad := base
	bad.VLLMURL = "not a url"
	assert.Error(t, bad.Validate())

	bad = base
	bad.Port = 0
	assert.Error(t, bad.Validate())

	bad = base
	bad.VisionURL = "::::"
	assert.Error(t, bad.Validate())
}

func TestBackends(t *testing.T) {
	cfg := Config{
		VLLMURL:    "http://vllm:8000",
		VLLMAPIKey: "k1",
		VLLMModel:  "devstral",
	}

	sel := cfg.Backends()
	assert.Equal(t, "http://vllm:8000", sel.Default.URL)
	assert.Nil(t, sel.Vision)

	cfg.VisionURL = "http://vision:8000"
	cfg.VisionModel = "pixtral"

	sel = cfg.Backends()
	require.NotNil(t, sel.Vision)
	assert.Equal(t, "pixtral", sel.Vision.Model)
}

func TestManager(t *testing.T) {
	setEnv(t)

	m := NewManager()

	cfg, err := m.Get()
	require.NoError(t, err)
	assert.Equal(t, "devstral-small", cfg.VLLMModel)

	// Second Get returns the cached snapshot.
	again, err := m.Get()
	require.NoError(t, err)
	assert.Same(t, cfg, again)
}

func TestManagerSet(t *testing.T) {
	m := NewManager()

	injected := &Config{VLLMURL: "http://vllm:8000", VLLMModel: "devstral"}
	m.Set(injected)

	// Get returns the stored snapshot without touching the environment.
	got, err := m.Get()
	require.NoError(t, err)
	assert.Same(t, injected, got)
}
