package domain

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"time"
)

const validToken = `{
	"version": "1.0",
	"issuer": "did:example:issuer",
	"delegate": "did:example:agent",
	"capabilities": [{"function_name": "chat_completion", "permissions": ["invoke"], "metadata": {"tier": "basic"}}],
	"constraints": {"max_uses": 3, "ip_whitelist": ["10.0.0.0/8"], "resource_limits": {"max_requests_per_minute": 10}},
	"issued_at": 1700000000,
	"expires_at": 1700003600,
	"nonce": "n-1",
	"signature": "c2ln"
}`

func rawFrom(t *testing.T, s string) RawToken {
	t.Helper()
	var raw RawToken
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		t.Fatalf("unmarshal fixture: %v", err)
	}
	return raw
}

func TestParse_Valid(t *testing.T) {
	tok, errs := Parse(rawFrom(t, validToken))
	if len(errs) > 0 {
		t.Fatalf("Parse errors: %v", errs)
	}
	if tok.Issuer != "did:example:issuer" || tok.Nonce != "n-1" {
		t.Errorf("token = %+v", tok)
	}
	if tok.Constraints.MaxUses == nil || *tok.Constraints.MaxUses != 3 {
		t.Errorf("MaxUses = %v", tok.Constraints.MaxUses)
	}
	if got := tok.CapabilityNames(); !reflect.DeepEqual(got, []string{"chat_completion"}) {
		t.Errorf("CapabilityNames = %v", got)
	}
}

func TestParse_CollectsAllErrors(t *testing.T) {
	raw := rawFrom(t, `{
		"version": 1,
		"issuer": "",
		"capabilities": [{"permissions": []}],
		"issued_at": 200,
		"expires_at": 100,
		"nonce": "n"
	}`)
	tok, errs := Parse(raw)
	if tok != nil {
		t.Fatal("Parse should return nil token on structural errors")
	}
	wantSubstrings := []string{
		"field version must be a string",
		"field issuer must not be empty",
		"missing required field: delegate",
		"missing required field: signature",
		"expires_at must be after issued_at",
		"capabilities[0]: function_name is required",
		"capabilities[0]: permissions must be a non-empty list of strings",
	}
	joined := strings.Join(errs, "\n")
	for _, want := range wantSubstrings {
		if !strings.Contains(joined, want) {
			t.Errorf("errors missing %q; got:\n%s", want, joined)
		}
	}
}

func TestParse_EdgeCases(t *testing.T) {
	testCases := []struct {
		name  string
		patch func(RawToken)
		want  string
	}{
		{"empty capabilities", func(r RawToken) { r["capabilities"] = json.RawMessage(`[]`) }, "capabilities must not be empty"},
		{"capabilities not array", func(r RawToken) { r["capabilities"] = json.RawMessage(`"x"`) }, "must be an array"},
		{"fractional timestamp", func(r RawToken) { r["issued_at"] = json.RawMessage(`1.5`) }, "issued_at must be an integer"},
		{"negative max_uses", func(r RawToken) { r["constraints"] = json.RawMessage(`{"max_uses": -1}`) }, "max_uses must not be negative"},
		{"malformed constraints", func(r RawToken) { r["constraints"] = json.RawMessage(`{"ip_whitelist": "x"}`) }, "constraints is malformed"},
		{"null signature", func(r RawToken) { r["signature"] = json.RawMessage(`null`) }, "missing required field: signature"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			raw := rawFrom(t, validToken)
			tc.patch(raw)
			_, errs := Parse(raw)
			if !strings.Contains(strings.Join(errs, "\n"), tc.want) {
				t.Errorf("errors = %v, want one containing %q", errs, tc.want)
			}
		})
	}
}

func TestParse_ConstraintsOptional(t *testing.T) {
	raw := rawFrom(t, validToken)
	delete(raw, "constraints")
	tok, errs := Parse(raw)
	if len(errs) > 0 {
		t.Fatalf("Parse errors: %v", errs)
	}
	if tok.RemainingUses(5) != nil {
		t.Error("RemainingUses should be nil without max_uses")
	}
}

func TestParse_Nil(t *testing.T) {
	if _, errs := Parse(nil); len(errs) != 1 {
		t.Errorf("Parse(nil) errors = %v", errs)
	}
}

func TestToken_Helpers(t *testing.T) {
	tok, _ := Parse(rawFrom(t, validToken))
	now := time.Unix(1700003000, 0)
	if tok.Expired(now) {
		t.Error("token should not be expired")
	}
	if got := tok.TimeRemaining(now); got != 600 {
		t.Errorf("TimeRemaining = %d, want 600", got)
	}
	if !tok.Expired(time.Unix(1700003601, 0)) {
		t.Error("token should be expired after expires_at")
	}
	if got := *tok.RemainingUses(1); got != 2 {
		t.Errorf("RemainingUses(1) = %d, want 2", got)
	}
	if got := *tok.RemainingUses(7); got != 0 {
		t.Errorf("RemainingUses(7) = %d, want 0", got)
	}
	if got := tok.MissingCapabilities([]string{"chat_completion", "embeddings"}); !reflect.DeepEqual(got, []string{"embeddings"}) {
		t.Errorf("MissingCapabilities = %v", got)
	}
	if tok.Constraints.HasSpatial() {
		t.Error("HasSpatial should be false")
	}
}
