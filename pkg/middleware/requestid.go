// Package middleware provides reusable HTTP middleware for request IDs,
// Prometheus metrics, and rate limiting.
package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/mkumaran/message-search/pkg/logger"
)

const requestIDHeader = "X-Request-ID"

// RequestID assigns each request a UUID (or reuses the caller-supplied
// X-Request-ID), stores it in the request context, and echoes it in the
// response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		ctx := logger.WithRequestID(r.Context(), id)
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
