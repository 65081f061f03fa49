package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPChecker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewHTTPChecker()
	if err := c.Check(context.Background(), srv.URL+"/health"); err != nil {
		t.Errorf("healthy: %v", err)
	}
	if err := c.Check(context.Background(), srv.URL+"/down"); err == nil {
		t.Error("want error for 503")
	}
}

func TestHTTPChecker_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	if err := NewHTTPChecker().Check(context.Background(), url+"/health"); err == nil {
		t.Error("want error for closed server")
	}
}
