// Package validator checks capability token structure, issuer, expiry and signature.
package validator

import (
	"crypto"
	"errors"
	"fmt"
	"log"
	"time"

	"x402-delegation/backend/internal/capability/domain"
	"x402-delegation/backend/internal/security"
)

// ErrUnknownIssuerKey is returned when no public key can be resolved for an issuer.
var ErrUnknownIssuerKey = errors.New("no public key for issuer")

// Validator checks tokens against an issuer allow-list and issuer public keys.
type Validator struct {
	allowed map[string]struct{}
	keys    KeyResolver
}

// New returns a Validator. An empty authorized list accepts every issuer.
// A nil keys resolver only resolves self-certifying issuers.
func New(authorized []string, keys KeyResolver) *Validator {
	allowed := make(map[string]struct{}, len(authorized))
	for _, a := range authorized {
		allowed[a] = struct{}{}
	}
	if len(allowed) == 0 {
		log.Printf("validator: WARNING no authorized issuers configured; every issuer is accepted")
	}
	if keys == nil {
		keys = SelfCertifying{}
	}
	return &Validator{allowed: allowed, keys: keys}
}

// ValidateStructure returns every structural problem with raw, or nil when it is well formed.
func (v *Validator) ValidateStructure(raw domain.RawToken) []string {
	_, errs := domain.Parse(raw)
	return errs
}

// Parse validates structure and returns the typed token.
func (v *Validator) Parse(raw domain.RawToken) (*domain.CapabilityToken, []string) {
	return domain.Parse(raw)
}

// ValidateIssuer reports whether issuer is on the allow-list (or the list is empty).
func (v *Validator) ValidateIssuer(issuer string) bool {
	if len(v.allowed) == 0 {
		return true
	}
	_, ok := v.allowed[issuer]
	return ok
}

// ValidateExpiry reports whether token has not expired at now.
func (v *Validator) ValidateExpiry(token *domain.CapabilityToken, now time.Time) bool {
	return !token.Expired(now)
}

// VerifySignature verifies token.Signature with the issuer's key. The signed payload is the canonical
// JSON (sorted keys, no insignificant whitespace) of every transported field except signature, so
// empty lists and fields this service does not model are covered as sent. The canonical typed
// payload produced by Sign is accepted as well.
func (v *Validator) VerifySignature(token *domain.CapabilityToken) error {
	pub, err := v.keys.IssuerKey(token.Issuer)
	if err != nil {
		return err
	}
	candidates := []any{token.Payload()}
	if fields := token.SignedFields(); fields != nil {
		candidates = []any{fields, token.Payload()}
	}
	for _, c := range candidates {
		payload, cerr := security.CanonicalJSON(c)
		if cerr != nil {
			return fmt.Errorf("canonicalize token: %w", cerr)
		}
		if err = security.VerifyDetached(payload, token.Signature, pub); err == nil {
			return nil
		}
	}
	return err
}

// Sign fills token.Signature using key. Issuers and tests use it to mint tokens.
func Sign(token *domain.CapabilityToken, key crypto.Signer) error {
	payload, err := security.CanonicalJSON(token.Payload())
	if err != nil {
		return err
	}
	sig, err := security.SignDetached(payload, key)
	if err != nil {
		return err
	}
	token.Signature = sig
	return nil
}
