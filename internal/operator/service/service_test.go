package service

import (
	"context"
	"errors"
	"testing"

	"x402-delegation/backend/internal/security"
)

func newService(t *testing.T) *Service {
	t.Helper()
	hasher := security.NewHasher(4)
	hash, err := hasher.Hash([]byte("s3cret"))
	if err != nil {
		t.Fatal(err)
	}
	tokens, err := security.NewTestTokenProvider()
	if err != nil {
		t.Fatal(err)
	}
	return NewService(hash, hasher, tokens)
}

func TestIssueToken(t *testing.T) {
	svc := newService(t)
	tok, err := svc.IssueToken(context.Background(), "s3cret")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if tok.AccessToken == "" || tok.TokenType != "Bearer" {
		t.Errorf("token = %+v", tok)
	}
	tokens, _ := security.NewTestTokenProvider()
	if sub, err := tokens.ValidateAccess(tok.AccessToken); err != nil || sub != "operator" {
		t.Errorf("ValidateAccess = %q, %v", sub, err)
	}
}

func TestIssueToken_Rejections(t *testing.T) {
	svc := newService(t)
	for _, key := range []string{"", "wrong"} {
		if _, err := svc.IssueToken(context.Background(), key); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("key %q: err = %v, want ErrInvalidKey", key, err)
		}
	}
	if _, err := NewService("", nil, nil).IssueToken(context.Background(), "s3cret"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
}
