package interceptors

import (
	"net/http"
	"strings"

	"x402-delegation/backend/internal/platform/httpx"
)

const bearerPrefix = "bearer "

// TokenValidator validates operator access tokens and returns their subject.
type TokenValidator interface {
	ValidateAccess(token string) (subject string, err error)
}

// RequireOperator returns middleware that rejects requests without a valid operator Bearer token
// and stores the operator subject in the request context. A nil validator rejects everything.
func RequireOperator(tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearer(r)
			if token == "" || tokens == nil {
				unauthorized(w)
				return
			}
			subject, err := tokens.ValidateAccess(token)
			if err != nil {
				unauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithOperator(r.Context(), subject)))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="operator"`)
	httpx.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid authorization", nil)
}

// extractBearer returns the Bearer token from the Authorization header, or "" if missing or malformed.
func extractBearer(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
