package interceptors

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"x402-delegation/backend/internal/platform/httpx"
	"x402-delegation/backend/internal/telemetry"
	"x402-delegation/backend/internal/telemetry/domain"
)

// httpRequestMetadata is the JSON shape stored in Event.Metadata for http_request events.
type httpRequestMetadata struct {
	Method     string `json:"method"`
	Route      string `json:"route"`
	StatusCode int    `json:"status_code"`
	DurationMs int64  `json:"duration_ms"`
	ClientIP   string `json:"client_ip"`
}

// ClientIPContext stores the request's client IP in its context for audit and telemetry.
func ClientIPContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithClientIP(r.Context(), httpx.ClientIP(r))))
	})
}

// Telemetry returns middleware that emits an http_request event after each request.
// Best-effort: emits are asynchronous and failures are logged. If emitter is nil, the middleware no-ops.
// skipPaths is the set of URL paths to not emit (e.g. /healthz).
func Telemetry(emitter telemetry.EventEmitter, skipPaths map[string]bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)
			if emitter == nil || skipPaths[r.URL.Path] {
				return
			}
			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			meta := httpRequestMetadata{
				Method:     r.Method,
				Route:      route,
				StatusCode: rec.code(),
				DurationMs: time.Since(start).Milliseconds(),
				ClientIP:   httpx.ClientIP(r),
			}
			metaJSON, _ := json.Marshal(meta)
			event := &domain.Event{
				EventType: domain.TypeHTTPRequest,
				Source:    "http_middleware",
				SessionID: rec.Header().Get("X-Delegation-Session"),
				Metadata:  metaJSON,
				CreatedAt: time.Now().UTC(),
			}
			telemetry.EmitAsync(emitter, r.Context(), event)
		})
	}
}
