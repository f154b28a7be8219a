package handler

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"probeselect/codec"
	"probeselect/logging"
)

const (
	// APIKeyHeader carries the shared secret checked by RequireAPIKey.
	APIKeyHeader = "x-api-key"
	// RequestIDHeader carries the id assigned to every request.
	RequestIDHeader = "X-Request-ID"

	unauthorizedMessage = "Unauthorized: Invalid or missing API key"
)

type requestIDKey struct{}

// RequestID tags every request with an id, taken from X-Request-ID when the
// caller sent one, and echoes it in the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// RequestIDFrom returns the id set by RequestID, or "" outside it.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// RequireAPIKey rejects requests whose x-api-key header does not match key.
func RequireAPIKey(key string, c codec.Codec, log *logging.Logger) mux.MiddlewareFunc {
	want := []byte(key)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(APIKeyHeader)
			if got == "" || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				log.Warnf("Rejected %s %s from %s: invalid or missing API key", r.Method, r.URL.Path, r.RemoteAddr)
				writeJSON(w, c, log, http.StatusUnauthorized, errorResponse{Error: unauthorizedMessage})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
