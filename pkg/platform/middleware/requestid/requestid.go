// Package requestid assigns a correlation ID to each request. The ID is
// echoed in the X-Request-ID response header and propagated through
// requestcontext so audit rows and log lines can be tied back to one call.
package requestid

import (
	"net/http"

	"github.com/google/uuid"

	"custodia/pkg/requestcontext"
)

const headerName = "X-Request-ID"

// Middleware reuses a caller-supplied X-Request-ID when present, otherwise
// generates one.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(headerName)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(headerName, requestID)
		ctx := requestcontext.WithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
