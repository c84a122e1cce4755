// Package middleware provides HTTP middleware for the Anne API.
package middleware

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"

	"github.com/spediresicuro/anne/internal/logger"
)

const (
	headerRequestID = "X-Request-ID"
	headerTraceID   = "X-Trace-ID"
)

// RequestID is HTTP middleware that extracts X-Request-ID from the request
// header or generates a new one. The ID is stored in the context and set
// on the response header. A caller-supplied X-Trace-ID is stored as the
// trace id so retries of one operator turn share audit keys.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = generateID()
		}

		ctx := logger.WithRequestID(r.Context(), id)
		if trace := r.Header.Get(headerTraceID); trace != "" {
			ctx = logger.WithTraceID(ctx, trace)
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// generateID returns a 16-byte random hex string (32 chars).
func generateID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
