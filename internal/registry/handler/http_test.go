package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"x402-delegation/backend/internal/registry/domain"
	"x402-delegation/backend/internal/registry/repository"
	"x402-delegation/backend/internal/registry/service"
)

const chatBody = `{
	"name": "AI Chat API",
	"base_url": "https://chat.example.com",
	"provider": "Example AI",
	"manifest": {"functions": [{"name": "chat_completion", "permissions": ["execute"]}]},
	"delegation_endpoints": {"validate": "/x402/validate"},
	"tags": ["ai"]
}`

func newRouter(t *testing.T, allowOperator bool) http.Handler {
	t.Helper()
	reg := service.NewRegistry(repository.NewMemoryRepository(), nil, service.Config{})
	operator := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !allowOperator {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
	r := chi.NewRouter()
	NewServer(reg).Routes(r, operator)
	return r
}

func do(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRegistryRoutes(t *testing.T) {
	h := newRouter(t, true)

	rec := do(h, http.MethodPost, "/v1/registry/services", chatBody)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d body = %s", rec.Code, rec.Body.String())
	}
	var svc domain.Service
	if err := json.Unmarshal(rec.Body.Bytes(), &svc); err != nil {
		t.Fatal(err)
	}

	rec = do(h, http.MethodGet, "/v1/registry/services?tags=ai&limit=5", "")
	var res domain.SearchResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK || res.Total != 1 || res.Limit != 5 {
		t.Errorf("search = %d %+v", rec.Code, res)
	}

	if rec := do(h, http.MethodGet, "/v1/registry/services/"+svc.ID, ""); rec.Code != http.StatusOK {
		t.Errorf("get status = %d", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/v1/registry/services/unknown", ""); rec.Code != http.StatusNotFound {
		t.Errorf("get unknown status = %d, want 404", rec.Code)
	}

	rec = do(h, http.MethodPost, "/v1/registry/services/"+svc.ID+"/delegations",
		`{"delegate":"did:example:agent","capabilities":["chat_completion"]}`)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"expires_in":86400`) {
		t.Errorf("delegation = %d %s", rec.Code, rec.Body.String())
	}
	rec = do(h, http.MethodPost, "/v1/registry/services/"+svc.ID+"/delegations",
		`{"delegate":"did:example:agent","capabilities":["nonexistent_fn"]}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown capability status = %d, want 400", rec.Code)
	}
}

func TestRegistryRoutes_RegisterRequiresOperator(t *testing.T) {
	h := newRouter(t, false)
	if rec := do(h, http.MethodPost, "/v1/registry/services", chatBody); rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/v1/registry/services", ""); rec.Code != http.StatusOK {
		t.Errorf("search status = %d, want 200", rec.Code)
	}
}

func TestSearch_BadLimit(t *testing.T) {
	h := newRouter(t, true)
	if rec := do(h, http.MethodGet, "/v1/registry/services?limit=ten", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
