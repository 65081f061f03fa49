package interceptors

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"x402-delegation/backend/internal/telemetry/domain"
)

type chanEmitter chan *domain.Event

func (c chanEmitter) Emit(_ context.Context, e *domain.Event) error {
	c <- e
	return nil
}

func TestTelemetry_EmitsHTTPRequest(t *testing.T) {
	events := make(chanEmitter, 4)
	r := chi.NewRouter()
	r.Use(Telemetry(events, map[string]bool{"/healthz": true}))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {})
	r.Get("/v1/registry/services/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/registry/services/x", nil))

	select {
	case e := <-events:
		if e.EventType != domain.TypeHTTPRequest {
			t.Errorf("event type = %q", e.EventType)
		}
		var meta httpRequestMetadata
		if err := json.Unmarshal(e.Metadata, &meta); err != nil {
			t.Fatal(err)
		}
		if meta.Route != "/v1/registry/services/{id}" || meta.StatusCode != http.StatusNotFound {
			t.Errorf("meta = %+v", meta)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event emitted")
	}
	select {
	case e := <-events:
		t.Errorf("unexpected second event %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTelemetry_NilEmitter(t *testing.T) {
	h := Telemetry(nil, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestClientIPContext(t *testing.T) {
	var got string
	h := ClientIPContext(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClientIP(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:4711"
	req.Header.Set("X-Forwarded-For", "10.0.0.1")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != "203.0.113.9" {
		t.Errorf("ip = %q", got)
	}
	if ClientIP(context.Background()) != "unknown" {
		t.Error("want unknown without middleware")
	}
}
