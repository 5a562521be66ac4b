// Package server wires the routes, middleware and shared components and
// runs the HTTP server with graceful shutdown.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Davincible/claude-vllm-proxy/internal/config"
	"github.com/Davincible/claude-vllm-proxy/internal/handlers"
	"github.com/Davincible/claude-vllm-proxy/internal/metrics"
	"github.com/Davincible/claude-vllm-proxy/internal/middleware"
	"github.com/Davincible/claude-vllm-proxy/internal/telemetry"
	"github.com/Davincible/claude-vllm-proxy/internal/upstream"
)

const (
	shutdownTimeout = 10 * time.Second
	probeTimeout    = 5 * time.Second
)

type Server struct {
	manager *config.Manager
	logger  *slog.Logger
	server  *http.Server

	client  *upstream.Client
	metrics *metrics.Metrics
}

// New builds a server around a config manager; handlers resolve their
// snapshot through the same manager on every request.
func New(manager *config.Manager, logger *slog.Logger) *Server {
	return &Server{
		manager: manager,
		logger:  logger,
		client:  upstream.NewClient(logger),
		metrics: metrics.New(),
	}
}

// Start runs the server until SIGINT or SIGTERM, then drains connections.
func (s *Server) Start() error {
	cfg, err := s.manager.Get()
	if err != nil {
		return err
	}

	s.probeBackend(cfg)

	s.server = &http.Server{
		Addr:    cfg.Addr(),
		Handler: s.routes(cfg),
	}

	s.logger.Info("Starting server",
		"address", cfg.Addr(),
		"backend", cfg.VLLMURL,
		"model", cfg.VLLMModel,
		"vision_backend", cfg.VisionURL != "",
	)

	errCh := make(chan error, 1)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-quit:
		s.logger.Info("Shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	s.logger.Info("Server exited")

	return nil
}

func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// probeBackend checks backend reachability once at startup. Failure is
// logged, not fatal; the backend may simply still be loading the model.
func (s *Server) probeBackend(cfg *config.Config) {
	backend := cfg.Backends().Default

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, backend.ModelsURL(), nil)
	if err != nil {
		return
	}

	if auth := upstream.ComposeAuth(backend, ""); auth != "" {
		req.Header.Set("Authorization", upstream.EnsureBearer(auth))
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		s.logger.Warn("Backend not reachable at startup", "url", backend.URL, "error", err)
		return
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.logger.Warn("Backend health probe failed", "url", backend.URL, "status", resp.StatusCode)
		return
	}

	s.logger.Info("Backend reachable", "url", backend.URL)
}

func (s *Server) routes(cfg *config.Config) *http.ServeMux {
	mux := http.NewServeMux()

	collector := telemetry.NewCollector(cfg.TelemetryEndpoint, s.logger)

	h := handlers.New(s.manager, s.client, s.metrics, collector, s.logger)
	set := middleware.NewSet(cfg.APIKey, s.logger)

	api := set.APIChain()
	public := set.PublicChain()

	mux.Handle("POST /v1/messages", api.Handler(http.HandlerFunc(h.Messages)))
	mux.Handle("POST /v1/messages/count_tokens", api.Handler(http.HandlerFunc(h.CountTokens)))
	mux.Handle("POST /v1/chat/completions", api.Handler(http.HandlerFunc(h.ChatCompletions)))
	mux.Handle("POST /v1/completions", api.Handler(http.HandlerFunc(h.Completions)))
	mux.Handle("POST /completions", api.Handler(http.HandlerFunc(h.Completions)))
	mux.Handle("GET /v1/models", api.Handler(http.HandlerFunc(h.Models)))

	mux.Handle("GET /health", public.Handler(http.HandlerFunc(h.Health)))
	mux.Handle("GET /stats", public.Handler(http.HandlerFunc(h.Stats)))
	mux.Handle("GET /metrics", public.Handler(s.metrics.Handler()))

	return mux
}
