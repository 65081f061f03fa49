package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"strings"

	"github.com/mr-tron/base58"
)

// ErrInvalidKey is returned when PEM or key type is invalid.
var ErrInvalidKey = errors.New("invalid key")

// Prefixes of self-certifying issuer identities whose suffix is a base58 Ed25519 public key.
const (
	SolanaIssuerPrefix  = "solana:"
	Ed25519IssuerPrefix = "ed25519:"
)

// LoadPEM reads content from path if s does not look like inline PEM; otherwise returns s as bytes.
// Literal "\n" sequences in inline PEM (common in env files) are converted to newlines.
func LoadPEM(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrInvalidKey
	}
	if strings.HasPrefix(s, "-----BEGIN") {
		return []byte(strings.ReplaceAll(s, `\n`, "\n")), nil
	}
	return os.ReadFile(s)
}

// ParsePrivateKey parses a PEM-encoded private key (RSA, ECDSA or Ed25519). s may be inline PEM or a file path.
func ParsePrivateKey(s string) (crypto.Signer, error) {
	pemBytes, err := LoadPEM(s)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, ErrInvalidKey
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, ErrInvalidKey
		}
		return signer, nil
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	default:
		return nil, ErrInvalidKey
	}
}

// ParsePublicKey parses a PEM-encoded public key (RSA, ECDSA or Ed25519). s may be inline PEM or a file path.
func ParsePublicKey(s string) (crypto.PublicKey, error) {
	pemBytes, err := LoadPEM(s)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, ErrInvalidKey
	}
	switch block.Type {
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	case "PUBLIC KEY":
		return x509.ParsePKIXPublicKey(block.Bytes)
	default:
		return nil, ErrInvalidKey
	}
}

// DecodeBase58PublicKey decodes a base58 string into a 32-byte Ed25519 public key (Solana address format).
func DecodeBase58PublicKey(s string) (ed25519.PublicKey, error) {
	raw, err := base58.Decode(strings.TrimSpace(s))
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil, ErrInvalidKey
	}
	return ed25519.PublicKey(raw), nil
}

// IsBase58Address reports whether s decodes to a 32-byte base58 address.
func IsBase58Address(s string) bool {
	_, err := DecodeBase58PublicKey(s)
	return err == nil
}

// SelfCertifyingKey returns the Ed25519 key embedded in an issuer of the form
// "solana:<base58>" or "ed25519:<base58>". ok is false for any other issuer form.
func SelfCertifyingKey(issuer string) (pub ed25519.PublicKey, ok bool) {
	var rest string
	switch {
	case strings.HasPrefix(issuer, SolanaIssuerPrefix):
		rest = strings.TrimPrefix(issuer, SolanaIssuerPrefix)
	case strings.HasPrefix(issuer, Ed25519IssuerPrefix):
		rest = strings.TrimPrefix(issuer, Ed25519IssuerPrefix)
	default:
		return nil, false
	}
	pub, err := DecodeBase58PublicKey(rest)
	if err != nil {
		return nil, false
	}
	return pub, true
}

// KeyAlg returns "RS256" for RSA, "ES256" for ECDSA P-256 and "EdDSA" for Ed25519; empty otherwise.
func KeyAlg(pub crypto.PublicKey) string {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		return "RS256"
	case *ecdsa.PublicKey:
		if k.Curve == nil || k.Curve.Params().Name != "P-256" {
			return ""
		}
		return "ES256"
	case ed25519.PublicKey:
		return "EdDSA"
	default:
		return ""
	}
}
