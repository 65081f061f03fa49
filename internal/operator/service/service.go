// Package service exchanges the operator key for short-lived operator access tokens.
package service

import (
	"context"
	"errors"
	"log"
	"time"
)

const operatorSubject = "operator"

var (
	// ErrInvalidKey is returned when the presented operator key does not match.
	ErrInvalidKey = errors.New("invalid operator key")
	// ErrNotConfigured is returned when no operator key hash or token provider is configured.
	ErrNotConfigured = errors.New("operator access is not configured")
)

// KeyComparer verifies a plaintext key against a stored hash.
type KeyComparer interface {
	Compare(hash string, key []byte) error
}

// TokenIssuer issues operator access tokens.
type TokenIssuer interface {
	IssueAccess(subject string) (token string, jti string, expiresAt time.Time, err error)
}

// Token is an issued operator access token.
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Service authenticates operators.
type Service struct {
	keyHash string
	hasher  KeyComparer
	tokens  TokenIssuer
}

// NewService returns an operator Service. An empty keyHash or nil tokens disables token issuance.
func NewService(keyHash string, hasher KeyComparer, tokens TokenIssuer) *Service {
	return &Service{keyHash: keyHash, hasher: hasher, tokens: tokens}
}

// IssueToken returns an access token when key matches the configured operator key hash.
func (s *Service) IssueToken(ctx context.Context, key string) (*Token, error) {
	if s.keyHash == "" || s.tokens == nil || s.hasher == nil {
		return nil, ErrNotConfigured
	}
	if key == "" {
		return nil, ErrInvalidKey
	}
	if err := s.hasher.Compare(s.keyHash, []byte(key)); err != nil {
		log.Printf("operator: rejected token request")
		return nil, ErrInvalidKey
	}
	token, jti, exp, err := s.tokens.IssueAccess(operatorSubject)
	if err != nil {
		return nil, err
	}
	log.Printf("operator: issued token %s", jti)
	return &Token{AccessToken: token, TokenType: "Bearer", ExpiresAt: exp}, nil
}
