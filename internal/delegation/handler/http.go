// Package handler exposes the delegation pipeline over HTTP: validation, session administration
// and the capability-gated reverse proxy.
package handler

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"

	"x402-delegation/backend/internal/capability/codec"
	"x402-delegation/backend/internal/delegation/service"
	"x402-delegation/backend/internal/platform/errcode"
	"x402-delegation/backend/internal/platform/httpx"
	sessiondomain "x402-delegation/backend/internal/session/domain"
)

// SessionHeader carries the delegation session id to the protected upstream.
const SessionHeader = "X-Delegation-Session"

// InvokePrefix is the route prefix stripped before proxying.
const InvokePrefix = "/v1/invoke"

// Service is the delegation surface the handlers need.
type Service interface {
	ValidateDelegation(ctx context.Context, req httpx.Request) service.Result
	RevokeSession(ctx context.Context, id string) (*sessiondomain.Session, error)
	GetSession(ctx context.Context, id string) (*service.SessionView, error)
	Stats(ctx context.Context) (service.Stats, error)
}

// Server serves the delegation routes. upstream may be nil, in which case invoke routes answer 404.
type Server struct {
	svc      Service
	upstream *url.URL
	proxy    *httputil.ReverseProxy
}

// NewServer returns a delegation HTTP server.
func NewServer(svc Service, upstream *url.URL) *Server {
	s := &Server{svc: svc, upstream: upstream}
	if upstream != nil {
		s.proxy = &httputil.ReverseProxy{Rewrite: s.rewrite}
	}
	return s
}

// Routes mounts the delegation routes on r. Administrative routes are wrapped with operator.
func (s *Server) Routes(r chi.Router, operator func(http.Handler) http.Handler) {
	r.Post("/v1/delegation/validate", s.validate)
	r.Group(func(r chi.Router) {
		r.Use(operator)
		r.Get("/v1/delegation/stats", s.stats)
		r.Get("/v1/delegation/sessions/{id}", s.getSession)
		r.Post("/v1/delegation/sessions/{id}/revoke", s.revokeSession)
	})
	if s.proxy != nil {
		r.With(s.RequireCapability("")).Handle(InvokePrefix+"/{operation}/*", s.proxy)
		r.With(s.RequireCapability("")).Handle(InvokePrefix+"/{operation}", s.proxy)
	}
}

func (s *Server) validate(w http.ResponseWriter, r *http.Request) {
	req, err := httpx.FromHTTP(r, httpx.DefaultMaxBodyBytes)
	if err != nil {
		writeBodyErr(w, err)
		return
	}
	req.Operation = r.URL.Query().Get("operation")
	res := s.svc.ValidateDelegation(r.Context(), req)
	status := http.StatusOK
	if !res.Valid {
		status = errcode.HTTPStatus(res.Code)
	}
	httpx.WriteJSON(w, status, res)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Stats(r.Context())
	if err != nil {
		log.Printf("delegation: stats: %v", err)
		httpx.WriteError(w, http.StatusInternalServerError, string(errcode.Internal), "stats unavailable", nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, st)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeSessionError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, view)
}

func (s *Server) revokeSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.svc.RevokeSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeSessionError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, sess)
}

func writeSessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, service.ErrSessionNotFound) {
		httpx.WriteError(w, http.StatusNotFound, "SESSION_NOT_FOUND", "session not found", nil)
		return
	}
	log.Printf("delegation: session lookup: %v", err)
	httpx.WriteError(w, http.StatusInternalServerError, string(errcode.Internal), "internal error", nil)
}

type resultKey struct{}

// ResultFromContext returns the validation result stored by RequireCapability.
func ResultFromContext(ctx context.Context) (service.Result, bool) {
	res, ok := ctx.Value(resultKey{}).(service.Result)
	return res, ok
}

// RequireCapability gates next on a valid capability token. operation names the capability the
// token must grant; when empty it is taken from the {operation} route parameter.
// Failures are rendered with the status mapped from the result code.
func (s *Server) RequireCapability(operation string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req, err := httpx.FromHTTP(r, httpx.DefaultMaxBodyBytes)
			if err != nil {
				writeBodyErr(w, err)
				return
			}
			req.Operation = operation
			if req.Operation == "" {
				req.Operation = chi.URLParam(r, "operation")
			}
			res := s.svc.ValidateDelegation(r.Context(), req)
			if !res.Valid {
				msg := ""
				if len(res.Errors) > 0 {
					msg = res.Errors[0]
				}
				httpx.WriteError(w, errcode.HTTPStatus(res.Code), string(res.Code), msg, res.Errors)
				return
			}
			w.Header().Set(SessionHeader, res.SessionID)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), resultKey{}, res)))
		})
	}
}

// rewrite forwards to the upstream without the invoke prefix or the capability credentials.
func (s *Server) rewrite(pr *httputil.ProxyRequest) {
	pr.SetURL(s.upstream)
	pr.SetXForwarded()
	rest := strings.TrimPrefix(pr.In.URL.Path, InvokePrefix)
	pr.Out.URL.Path = path.Join("/", strings.TrimSuffix(s.upstream.Path, "/"), rest)
	pr.Out.URL.RawPath = ""
	pr.Out.Header.Del(codec.HeaderName)
	if scheme, _, ok := strings.Cut(pr.Out.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, codec.AuthScheme) {
		pr.Out.Header.Del("Authorization")
	}
	if res, ok := ResultFromContext(pr.In.Context()); ok {
		pr.Out.Header.Set(SessionHeader, res.SessionID)
	}
}

func writeBodyErr(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, httpx.ErrBodyTooLarge) {
		status = http.StatusRequestEntityTooLarge
	}
	httpx.WriteError(w, status, string(errcode.InvalidRequest), err.Error(), nil)
}
