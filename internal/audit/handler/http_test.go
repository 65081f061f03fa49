package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"x402-delegation/backend/internal/audit/domain"
	auditrepo "x402-delegation/backend/internal/audit/repository"
)

func passthrough(next http.Handler) http.Handler { return next }

func TestList(t *testing.T) {
	repo := auditrepo.NewMemoryRepository()
	ctx := context.Background()
	for i, res := range []string{"registry_service", "delegation_session", "delegation_session"} {
		_ = repo.Create(ctx, &domain.AuditLog{ID: string(rune('a' + i)), Resource: res, CreatedAt: time.Now()})
	}
	r := chi.NewRouter()
	NewServer(repo).Routes(r, passthrough)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/audit?resource=delegation_session&limit=1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Logs []domain.AuditLog `json:"audit_logs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Logs) != 1 || body.Logs[0].ID != "c" {
		t.Errorf("logs = %+v, want newest delegation_session entry", body.Logs)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/audit?limit=-1", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", rec.Code)
	}
}
