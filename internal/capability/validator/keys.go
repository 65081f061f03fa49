package validator

import (
	"crypto"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"x402-delegation/backend/internal/security"
)

// KeyResolver returns the public key that verifies an issuer's signatures.
type KeyResolver interface {
	IssuerKey(issuer string) (crypto.PublicKey, error)
}

// SelfCertifying resolves issuers of the form "solana:<base58>" or "ed25519:<base58>"
// to the Ed25519 key they embed.
type SelfCertifying struct{}

// IssuerKey implements KeyResolver.
func (SelfCertifying) IssuerKey(issuer string) (crypto.PublicKey, error) {
	if pub, ok := security.SelfCertifyingKey(issuer); ok {
		return pub, nil
	}
	return nil, ErrUnknownIssuerKey
}

// KeyRing maps issuer identities to configured public keys, falling back to
// self-certifying issuers.
type KeyRing struct {
	keys map[string]crypto.PublicKey
}

// keyFile is the on-disk layout of ISSUER_KEYS_FILE.
type keyFile struct {
	Issuers map[string]string `yaml:"issuers"`
}

// NewKeyRing returns a KeyRing over keys. keys may be nil.
func NewKeyRing(keys map[string]crypto.PublicKey) *KeyRing {
	if keys == nil {
		keys = map[string]crypto.PublicKey{}
	}
	return &KeyRing{keys: keys}
}

// LoadKeyRing reads a YAML file of the form
//
//	issuers:
//	  did:example:issuer: |
//	    -----BEGIN PUBLIC KEY-----
//	    ...
//
// Values may be inline PEM or a path to a PEM file. An empty path yields an empty ring.
func LoadKeyRing(path string) (*KeyRing, error) {
	if path == "" {
		return NewKeyRing(nil), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read issuer keys: %w", err)
	}
	return ParseKeyRing(b)
}

// ParseKeyRing parses the YAML key file contents.
func ParseKeyRing(b []byte) (*KeyRing, error) {
	var f keyFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse issuer keys: %w", err)
	}
	keys := make(map[string]crypto.PublicKey, len(f.Issuers))
	for issuer, pemStr := range f.Issuers {
		pub, err := security.ParsePublicKey(pemStr)
		if err != nil {
			return nil, fmt.Errorf("issuer %q: %w", issuer, err)
		}
		if security.KeyAlg(pub) == "" {
			return nil, fmt.Errorf("issuer %q: unsupported key type", issuer)
		}
		keys[issuer] = pub
	}
	return NewKeyRing(keys), nil
}

// Len returns the number of configured issuer keys.
func (k *KeyRing) Len() int { return len(k.keys) }

// IssuerKey implements KeyResolver.
func (k *KeyRing) IssuerKey(issuer string) (crypto.PublicKey, error) {
	if pub, ok := k.keys[issuer]; ok {
		return pub, nil
	}
	return SelfCertifying{}.IssuerKey(issuer)
}
