// Package server assembles the HTTP router and the gRPC health server.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"x402-delegation/backend/internal/audit"
	audithandler "x402-delegation/backend/internal/audit/handler"
	delegationhandler "x402-delegation/backend/internal/delegation/handler"
	healthhandler "x402-delegation/backend/internal/health/handler"
	operatorhandler "x402-delegation/backend/internal/operator/handler"
	paymenthandler "x402-delegation/backend/internal/payment/handler"
	registryhandler "x402-delegation/backend/internal/registry/handler"
	"x402-delegation/backend/internal/platform/httpx"
	"x402-delegation/backend/internal/server/interceptors"
	"x402-delegation/backend/internal/telemetry"
)

// Handlers holds the HTTP surfaces mounted by NewRouter. Nil entries are not mounted.
type Handlers struct {
	Health     *healthhandler.Server
	Operator   *operatorhandler.Server
	Delegation *delegationhandler.Server
	Payment    *paymenthandler.Server
	Registry   *registryhandler.Server
	Audit      *audithandler.Server
}

// Deps holds the cross-cutting dependencies of the router.
type Deps struct {
	// Tokens validates operator Bearer tokens. If nil, every operator route answers 401.
	Tokens interceptors.TokenValidator
	// AuditLogger records operator mutations. If nil, nothing is audited.
	AuditLogger audit.AuditLogger
	// Emitter receives http_request events. If nil, request telemetry is off.
	Emitter telemetry.EventEmitter
	// TrustedProxies may set the client IP through forwarding headers. If empty, the socket peer is used.
	TrustedProxies httpx.TrustedProxies
}

// publicPaths are not reported as http_request events.
var publicPaths = map[string]bool{"/healthz": true, "/readyz": true}

// NewRouter returns the chi router serving every configured surface.
//
// Route → handler mapping:
//   - /healthz, /readyz         → internal/health/handler
//   - /v1/operator/token        → internal/operator/handler
//   - /v1/delegation, /v1/invoke → internal/delegation/handler
//   - /v1/payments, /v1/paid    → internal/payment/handler
//   - /v1/registry              → internal/registry/handler
//   - /v1/audit                 → internal/audit/handler
func NewRouter(h Handlers, deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(httpx.RealIP(deps.TrustedProxies))
	r.Use(interceptors.ClientIPContext)
	r.Use(interceptors.Telemetry(deps.Emitter, publicPaths))
	r.Use(interceptors.Audit(deps.AuditLogger))

	operator := interceptors.RequireOperator(deps.Tokens)

	if h.Health != nil {
		h.Health.Routes(r)
	}
	if h.Operator != nil {
		h.Operator.Routes(r)
	}
	if h.Delegation != nil {
		h.Delegation.Routes(r, operator)
	}
	if h.Payment != nil {
		h.Payment.Routes(r)
	}
	if h.Registry != nil {
		h.Registry.Routes(r, operator)
	}
	if h.Audit != nil {
		h.Audit.Routes(r, operator)
	}
	return r
}

// NewGRPCServer returns a gRPC server instrumented with OpenTelemetry that serves grpc.health.v1.
func NewGRPCServer() (*grpc.Server, *health.Server) {
	s := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	return s, healthhandler.RegisterGRPC(s)
}
