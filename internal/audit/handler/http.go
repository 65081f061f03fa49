// Package handler exposes the audit log to operators.
package handler

import (
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"x402-delegation/backend/internal/audit/domain"
	auditrepo "x402-delegation/backend/internal/audit/repository"
	"x402-delegation/backend/internal/platform/errcode"
	"x402-delegation/backend/internal/platform/httpx"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Server serves the audit log listing.
type Server struct {
	repo auditrepo.Repository
}

// NewServer returns an audit HTTP server.
func NewServer(repo auditrepo.Repository) *Server {
	return &Server{repo: repo}
}

// Routes mounts GET /v1/audit behind operator.
func (s *Server) Routes(r chi.Router, operator func(http.Handler) http.Handler) {
	r.With(operator).Get("/v1/audit", s.list)
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := pageParam(q.Get("limit"), defaultPageSize)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, string(errcode.InvalidRequest), "limit must be a non-negative integer", nil)
		return
	}
	offset, err := pageParam(q.Get("offset"), 0)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, string(errcode.InvalidRequest), "offset must be a non-negative integer", nil)
		return
	}
	logs, err := s.repo.List(r.Context(), q.Get("resource"), int32(min(limit, maxPageSize)), int32(offset))
	if err != nil {
		log.Printf("audit: list: %v", err)
		httpx.WriteError(w, http.StatusInternalServerError, string(errcode.Internal), "internal error", nil)
		return
	}
	if logs == nil {
		logs = []*domain.AuditLog{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"audit_logs": logs})
}

func pageParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, strconv.ErrSyntax
	}
	return n, nil
}
