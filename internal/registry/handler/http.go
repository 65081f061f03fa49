// Package handler exposes the discovery registry over HTTP.
package handler

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	capdomain "x402-delegation/backend/internal/capability/domain"
	"x402-delegation/backend/internal/platform/errcode"
	"x402-delegation/backend/internal/platform/httpx"
	"x402-delegation/backend/internal/registry/domain"
	"x402-delegation/backend/internal/registry/service"
)

// Registry is the registry surface the handlers need.
type Registry interface {
	RegisterService(ctx context.Context, spec domain.Spec) (*domain.Service, error)
	SearchServices(ctx context.Context, opts domain.SearchOptions) (*domain.SearchResult, error)
	GetService(ctx context.Context, id string) (*domain.Service, error)
	CreateDelegationRequest(ctx context.Context, serviceID, delegate string, capabilities []string, overrides *capdomain.Constraints) (*domain.DelegationRequest, error)
}

// Server serves the /v1/registry routes.
type Server struct {
	reg Registry
}

// NewServer returns a registry HTTP server.
func NewServer(reg Registry) *Server {
	return &Server{reg: reg}
}

// Routes mounts the registry routes on r. Registration is wrapped by operator.
func (s *Server) Routes(r chi.Router, operator func(http.Handler) http.Handler) {
	r.Route("/v1/registry/services", func(r chi.Router) {
		r.Get("/", s.search)
		r.With(operator).Post("/", s.register)
		r.Get("/{id}", s.get)
		r.Post("/{id}/delegations", s.createDelegation)
	})
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var spec domain.Spec
	if err := httpx.ReadJSON(r, &spec); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, string(errcode.InvalidRequest), "invalid service spec: "+err.Error(), nil)
		return
	}
	svc, err := s.reg.RegisterService(r.Context(), spec)
	if err != nil {
		writeErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, svc)
}

// search reads filters from the query string. List filters are comma-separated.
func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := domain.SearchOptions{
		Status:       domain.Status(q.Get("status")),
		Tags:         splitList(q.Get("tags")),
		Capabilities: splitList(q.Get("capabilities")),
		Providers:    splitList(q.Get("providers")),
		ExcludeTags:  splitList(q.Get("exclude_tags")),
		Query:        q.Get("q"),
	}
	var err error
	if opts.Offset, err = intParam(q.Get("offset")); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, string(errcode.InvalidRequest), "offset must be an integer", nil)
		return
	}
	if opts.Limit, err = intParam(q.Get("limit")); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, string(errcode.InvalidRequest), "limit must be an integer", nil)
		return
	}
	res, err := s.reg.SearchServices(r.Context(), opts)
	if err != nil {
		writeErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	svc, err := s.reg.GetService(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, svc)
}

type delegationBody struct {
	Delegate     string                 `json:"delegate"`
	Capabilities []string               `json:"capabilities"`
	Constraints  *capdomain.Constraints `json:"constraints,omitempty"`
}

func (s *Server) createDelegation(w http.ResponseWriter, r *http.Request) {
	var body delegationBody
	if err := httpx.ReadJSON(r, &body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, string(errcode.InvalidRequest), "invalid delegation request: "+err.Error(), nil)
		return
	}
	req, err := s.reg.CreateDelegationRequest(r.Context(), chi.URLParam(r, "id"), body.Delegate, body.Capabilities, body.Constraints)
	if err != nil {
		writeErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, req)
}

func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrServiceNotFound):
		httpx.WriteError(w, errcode.HTTPStatus(errcode.ServiceNotFound), string(errcode.ServiceNotFound), err.Error(), nil)
	case errors.Is(err, service.ErrServiceInactive):
		httpx.WriteError(w, errcode.HTTPStatus(errcode.ServiceInactive), string(errcode.ServiceInactive), err.Error(), nil)
	case errors.Is(err, service.ErrInvalidService), errors.Is(err, service.ErrInvalidCapabilities), errors.Is(err, service.ErrInvalidDelegate):
		httpx.WriteError(w, http.StatusBadRequest, string(errcode.InvalidRequest), err.Error(), nil)
	case errors.Is(err, service.ErrUnreachable):
		httpx.WriteError(w, http.StatusUnprocessableEntity, string(errcode.InvalidRequest), err.Error(), nil)
	default:
		log.Printf("registry: %v", err)
		httpx.WriteError(w, http.StatusInternalServerError, string(errcode.Internal), "internal error", nil)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
