package interceptors

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"x402-delegation/backend/internal/audit"
)

// statusRecorder captures the status code written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *statusRecorder) code() int {
	if s.status == 0 {
		return http.StatusOK
	}
	return s.status
}

// Audit returns middleware that records an audit log entry after each mutating request made by an
// authenticated operator. Reads and anonymous requests are not audited. Logging is best-effort.
func Audit(logger audit.AuditLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, _ := withHolder(r.Context())
			r = r.WithContext(ctx)
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)
			if logger == nil || r.Method == http.MethodGet || r.Method == http.MethodHead {
				return
			}
			operator, ok := GetOperator(r.Context())
			if !ok {
				return
			}
			pattern, resourceID := r.URL.Path, ""
			if rc := chi.RouteContext(r.Context()); rc != nil {
				if p := rc.RoutePattern(); p != "" {
					pattern = p
				}
				resourceID = rc.URLParam("id")
			}
			ar := audit.ParseRoute(r.Method, pattern)
			logger.LogEvent(r.Context(), audit.Entry{
				Actor:      operator,
				Action:     ar.Action,
				Resource:   ar.Resource,
				ResourceID: resourceID,
				Status:     rec.code(),
			})
		})
	}
}
