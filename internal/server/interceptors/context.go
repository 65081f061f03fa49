// Package interceptors holds the HTTP middleware shared by all routes: operator authentication,
// audit logging and request telemetry.
package interceptors

import "context"

type contextKey struct{ name string }

var (
	operatorKey = contextKey{"operator"}
	clientIPKey = contextKey{"client_ip"}
	holderKey   = contextKey{"identity_holder"}
)

// identityHolder lets middleware wrapping the router observe identities set further in.
type identityHolder struct {
	operator string
}

func withHolder(ctx context.Context) (context.Context, *identityHolder) {
	if h, ok := ctx.Value(holderKey).(*identityHolder); ok {
		return ctx, h
	}
	h := &identityHolder{}
	return context.WithValue(ctx, holderKey, h), h
}

// WithOperator returns a context carrying the authenticated operator subject.
func WithOperator(ctx context.Context, subject string) context.Context {
	if h, ok := ctx.Value(holderKey).(*identityHolder); ok {
		h.operator = subject
	}
	return context.WithValue(ctx, operatorKey, subject)
}

// GetOperator returns the operator subject from context and true if set; otherwise "", false.
func GetOperator(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(operatorKey).(string); ok {
		return v, true
	}
	if h, ok := ctx.Value(holderKey).(*identityHolder); ok && h.operator != "" {
		return h.operator, true
	}
	return "", false
}

// WithClientIP returns a context carrying the request's client IP.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// ClientIP returns the client IP stored by WithClientIP, or "unknown".
func ClientIP(ctx context.Context) string {
	if v, ok := ctx.Value(clientIPKey).(string); ok && v != "" {
		return v
	}
	return "unknown"
}
