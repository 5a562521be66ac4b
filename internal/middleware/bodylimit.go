package middleware

import "net/http"

// DefaultMaxBodyBytes bounds request bodies. Coding-agent prompts with long
// histories run large, so the ceiling is generous.
const DefaultMaxBodyBytes = 64 << 20

// NewBodyLimitMiddleware caps request body size; reads past the limit fail
// inside the handler's decode step.
func NewBodyLimitMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
