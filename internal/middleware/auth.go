package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Davincible/claude-vllm-proxy/internal/types"
)

type AuthMiddleware struct {
	apiKey string
	logger *slog.Logger
}

// NewAuthMiddleware gates requests on the proxy's own API key, accepted as
// either x-api-key or a Bearer token. An empty key disables the gate.
func NewAuthMiddleware(apiKey string, logger *slog.Logger) func(http.Handler) http.Handler {
	am := &AuthMiddleware{
		apiKey: apiKey,
		logger: logger,
	}

	return am.middleware
}

func (am *AuthMiddleware) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := am.authenticate(r); err != nil {
			am.logger.Warn("Authentication failed", "error", err, "remote_addr", r.RemoteAddr, "path", r.URL.Path)

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(types.NewErrorResponse("authentication_error", "invalid API key"))

			return
		}

		next.ServeHTTP(w, r)
	})
}

func (am *AuthMiddleware) authenticate(r *http.Request) error {
	if am.apiKey == "" {
		return nil
	}

	var token string

	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		token = strings.TrimPrefix(auth, "Bearer ")
	} else if apiKey := r.Header.Get("x-api-key"); apiKey != "" {
		token = apiKey
	}

	if token == "" {
		return errors.New("no authentication token provided")
	}

	if token != am.apiKey {
		return errors.New("invalid API key")
	}

	return nil
}
