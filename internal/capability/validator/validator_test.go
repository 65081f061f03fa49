package validator

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"x402-delegation/backend/internal/capability/domain"
	"x402-delegation/backend/internal/security"
)

func newToken(issuer string) *domain.CapabilityToken {
	return &domain.CapabilityToken{
		Version:      "1.0",
		Issuer:       issuer,
		Delegate:     "did:example:agent",
		Capabilities: []domain.Capability{{FunctionName: "chat_completion", Permissions: []string{"invoke"}}},
		IssuedAt:     1700000000,
		ExpiresAt:    1700003600,
		Nonce:        "n-1",
	}
}

func TestVerifySignature_SelfCertifying(t *testing.T) {
	key := security.NewTestEd25519Key(1)
	tok := newToken(security.SelfCertifyingIssuer(key.Public().(ed25519.PublicKey)))
	if err := Sign(tok, key); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	v := New(nil, nil)
	if err := v.VerifySignature(tok); err != nil {
		t.Fatalf("VerifySignature: %v", err)
	}

	tampered := *tok
	tampered.Delegate = "did:example:mallory"
	if err := v.VerifySignature(&tampered); !errors.Is(err, security.ErrInvalidSignature) {
		t.Errorf("tampered token: want ErrInvalidSignature, got %v", err)
	}
}

func TestVerifySignature_TransportedFieldsAsSigned(t *testing.T) {
	key := security.NewTestEd25519Key(5)
	issuer := security.SelfCertifyingIssuer(key.Public().(ed25519.PublicKey))
	// An empty whitelist and an extension field the typed payload would drop.
	body := `{"version":"1.0","issuer":"` + issuer + `","delegate":"did:example:agent",
		"capabilities":[{"function_name":"chat_completion","permissions":["invoke"]}],
		"constraints":{"ip_whitelist":[],"x_tier":"gold"},
		"issued_at":1700000000,"expires_at":1700003600,"nonce":"n-2"}`
	var unsigned map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &unsigned); err != nil {
		t.Fatal(err)
	}
	payload, err := security.CanonicalJSON(unsigned)
	if err != nil {
		t.Fatal(err)
	}
	sig, err := security.SignDetached(payload, key)
	if err != nil {
		t.Fatal(err)
	}

	parse := func(raw domain.RawToken) *domain.CapabilityToken {
		t.Helper()
		tok, errs := domain.Parse(raw)
		if len(errs) > 0 {
			t.Fatalf("Parse: %v", errs)
		}
		return tok
	}
	raw := domain.RawToken{"signature": json.RawMessage(strconv.Quote(sig))}
	for k, v := range unsigned {
		raw[k] = v
	}
	v := New(nil, nil)
	if err := v.VerifySignature(parse(raw)); err != nil {
		t.Fatalf("VerifySignature: %v", err)
	}

	raw["constraints"] = json.RawMessage(`{"ip_whitelist":[],"x_tier":"platinum"}`)
	if err := v.VerifySignature(parse(raw)); !errors.Is(err, security.ErrInvalidSignature) {
		t.Errorf("altered extension field: want ErrInvalidSignature, got %v", err)
	}
}

func TestVerifySignature_ParsedTokenMintedBySign(t *testing.T) {
	key := security.NewTestEd25519Key(6)
	tok := newToken(security.SelfCertifyingIssuer(key.Public().(ed25519.PublicKey)))
	if err := Sign(tok, key); err != nil {
		t.Fatal(err)
	}
	b, err := json.Marshal(tok)
	if err != nil {
		t.Fatal(err)
	}
	var raw domain.RawToken
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatal(err)
	}
	parsed, errs := domain.Parse(raw)
	if len(errs) > 0 {
		t.Fatalf("Parse: %v", errs)
	}
	if err := New(nil, nil).VerifySignature(parsed); err != nil {
		t.Errorf("VerifySignature: %v", err)
	}
}

func TestVerifySignature_SignatureOfPlausibleLengthRejected(t *testing.T) {
	key := security.NewTestEd25519Key(2)
	tok := newToken(security.SelfCertifyingIssuer(key.Public().(ed25519.PublicKey)))
	tok.Signature = strings.Repeat("A", 88)
	if err := New(nil, nil).VerifySignature(tok); err == nil {
		t.Error("arbitrary signature must not verify")
	}
}

func TestVerifySignature_UnknownIssuer(t *testing.T) {
	tok := newToken("did:example:issuer")
	tok.Signature = "c2ln"
	if err := New(nil, nil).VerifySignature(tok); !errors.Is(err, ErrUnknownIssuerKey) {
		t.Errorf("want ErrUnknownIssuerKey, got %v", err)
	}
}

func TestKeyRing_FromYAML(t *testing.T) {
	indented := "    " + strings.ReplaceAll(security.TestRSAPublicKeyPEM(), "\n", "\n    ")
	content := "issuers:\n  did:example:issuer: |\n" + indented + "\n"
	path := filepath.Join(t.TempDir(), "issuers.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	ring, err := LoadKeyRing(path)
	if err != nil {
		t.Fatalf("LoadKeyRing: %v", err)
	}
	if ring.Len() != 1 {
		t.Fatalf("Len = %d, want 1", ring.Len())
	}

	signer, err := security.ParsePrivateKey(security.TestRSAPrivateKeyPEM())
	if err != nil {
		t.Fatalf("ParsePrivateKey: %v", err)
	}
	tok := newToken("did:example:issuer")
	if err := Sign(tok, signer); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := New([]string{"did:example:issuer"}, ring).VerifySignature(tok); err != nil {
		t.Errorf("VerifySignature: %v", err)
	}
}

func TestKeyRing_Errors(t *testing.T) {
	if _, err := ParseKeyRing([]byte("issuers: [")); err == nil {
		t.Error("malformed YAML should fail")
	}
	if _, err := ParseKeyRing([]byte("issuers:\n  a: not-a-key\n")); err == nil {
		t.Error("bad key should fail")
	}
	ring, err := LoadKeyRing("")
	if err != nil || ring.Len() != 0 {
		t.Errorf("LoadKeyRing empty path = %v, %v", ring, err)
	}
}

func TestValidateIssuer(t *testing.T) {
	open := New(nil, nil)
	if !open.ValidateIssuer("anyone") {
		t.Error("empty allow-list should accept every issuer")
	}
	strict := New([]string{"did:example:issuer"}, nil)
	if !strict.ValidateIssuer("did:example:issuer") {
		t.Error("listed issuer should be accepted")
	}
	if strict.ValidateIssuer("did:example:issuer2") {
		t.Error("unlisted issuer should be rejected")
	}
}

func TestValidateExpiry(t *testing.T) {
	v := New(nil, nil)
	tok := newToken("i")
	now := time.Now()
	tok.ExpiresAt = now.Unix() - 1
	if v.ValidateExpiry(tok, now) {
		t.Error("token with expires_at = now-1 must be rejected")
	}
	tok.ExpiresAt = now.Unix()
	if !v.ValidateExpiry(tok, now) {
		t.Error("token expiring this second is still valid")
	}
}

func TestValidateStructure(t *testing.T) {
	errs := New(nil, nil).ValidateStructure(domain.RawToken{})
	if len(errs) == 0 {
		t.Error("empty token should have structural errors")
	}
}
