// Package middleware holds the HTTP middleware chain: request logging,
// gateway authentication, CORS and request body limits.
package middleware

import (
	"log/slog"
	"net/http"
)

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain is an ordered middleware list.
type Chain struct {
	middlewares []Middleware
}

// New creates a new middleware chain.
func New(middlewares ...Middleware) Chain {
	return Chain{middlewares: middlewares}
}

// Then adds more middleware to the chain.
func (c Chain) Then(middlewares ...Middleware) Chain {
	return Chain{middlewares: append(c.middlewares, middlewares...)}
}

// Handler applies all middleware in the chain to the given handler.
func (c Chain) Handler(handler http.Handler) http.Handler {
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		handler = c.middlewares[i](handler)
	}

	return handler
}

// Set contains all configured middleware for easy composition.
type Set struct {
	Logging   Middleware
	Auth      Middleware
	CORS      Middleware
	BodyLimit Middleware
}

// NewSet builds the middleware set. apiKey may be empty, which disables
// gateway authentication.
func NewSet(apiKey string, logger *slog.Logger) Set {
	return Set{
		Logging:   NewLoggingMiddleware(logger),
		Auth:      NewAuthMiddleware(apiKey, logger),
		CORS:      NewCORSMiddleware(),
		BodyLimit: NewBodyLimitMiddleware(DefaultMaxBodyBytes),
	}
}

// APIChain is the chain for the inference endpoints.
func (s Set) APIChain() Chain {
	return New(
		s.CORS,
		s.Logging,
		s.BodyLimit,
		s.Auth,
	)
}

// PublicChain is the chain for health, stats and metrics (no auth).
func (s Set) PublicChain() Chain {
	return New(
		s.CORS,
		s.Logging,
	)
}
