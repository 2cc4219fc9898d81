// Package request assigns a correlation ID to every inbound request so logs,
// audit entries, and error responses can be tied back together.
package request

import (
	"net/http"

	"github.com/google/uuid"

	"warden/pkg/requestcontext"
)

// HeaderRequestID carries the correlation ID to and from clients.
const HeaderRequestID = "X-Request-Id"

// Middleware reuses an inbound X-Request-Id when present, otherwise mints a
// new one, and echoes it on the response.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, requestID)
		ctx := requestcontext.WithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
