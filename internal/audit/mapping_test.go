package audit

import (
	"testing"
)

func TestParseRoute(t *testing.T) {
	tests := []struct {
		method, pattern  string
		action, resource string
	}{
		{"POST", "/v1/delegation/sessions/{id}/revoke", "revoke", "delegation_session"},
		{"POST", "/v1/registry/services", "register", "registry_service"},
		{"DELETE", "/v1/payments/sessions/{id}", "cancel", "payment_session"},
		{"GET", "/v1/registry/services/{id}", "get", "registry_service"},
		{"GET", "/v1/registry/services", "list", "registry_service"},
		{"GET", "/v1/delegation/stats", "list", "delegation_stat"},
		{"POST", "/v1/registry/services/{id}/delegations", "create", "registry_service_delegation"},
		{"GET", "/", "unknown", "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.pattern, func(t *testing.T) {
			ar := ParseRoute(tt.method, tt.pattern)
			if ar.Action != tt.action {
				t.Errorf("action = %q, want %q", ar.Action, tt.action)
			}
			if ar.Resource != tt.resource {
				t.Errorf("resource = %q, want %q", ar.Resource, tt.resource)
			}
		})
	}
}
