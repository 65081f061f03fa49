// Package handler serves operator token issuance.
package handler

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"x402-delegation/backend/internal/operator/service"
	"x402-delegation/backend/internal/platform/errcode"
	"x402-delegation/backend/internal/platform/httpx"
)

// Issuer issues operator tokens.
type Issuer interface {
	IssueToken(ctx context.Context, key string) (*service.Token, error)
}

// Server serves POST /v1/operator/token.
type Server struct {
	svc Issuer
}

// NewServer returns an operator HTTP server.
func NewServer(svc Issuer) *Server {
	return &Server{svc: svc}
}

// Routes mounts the operator routes on r.
func (s *Server) Routes(r chi.Router) {
	r.Post("/v1/operator/token", s.issueToken)
}

type tokenRequest struct {
	Key string `json:"key"`
}

func (s *Server) issueToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, string(errcode.InvalidRequest), "invalid token request", nil)
		return
	}
	tok, err := s.svc.IssueToken(r.Context(), req.Key)
	switch {
	case err == nil:
		httpx.WriteJSON(w, http.StatusOK, tok)
	case errors.Is(err, service.ErrInvalidKey):
		httpx.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error(), nil)
	case errors.Is(err, service.ErrNotConfigured):
		httpx.WriteError(w, http.StatusServiceUnavailable, "OPERATOR_DISABLED", err.Error(), nil)
	default:
		log.Printf("operator: issue token: %v", err)
		httpx.WriteError(w, http.StatusInternalServerError, string(errcode.Internal), "internal error", nil)
	}
}
