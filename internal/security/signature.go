package security

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidSignature is returned when a detached signature does not verify.
var ErrInvalidSignature = errors.New("invalid signature")

// CanonicalJSON serializes v as JSON with object keys sorted lexicographically,
// no insignificant whitespace and no HTML escaping. Numbers keep their textual form.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// signingMethodFor picks the jwt signing method matching the key type.
func signingMethodFor(key any) (jwt.SigningMethod, error) {
	switch k := key.(type) {
	case *rsa.PublicKey, *rsa.PrivateKey:
		return jwt.SigningMethodRS256, nil
	case *ecdsa.PublicKey:
		if KeyAlg(k) == "" {
			return nil, ErrInvalidKey
		}
		return jwt.SigningMethodES256, nil
	case *ecdsa.PrivateKey:
		if KeyAlg(&k.PublicKey) == "" {
			return nil, ErrInvalidKey
		}
		return jwt.SigningMethodES256, nil
	case ed25519.PublicKey, ed25519.PrivateKey:
		return jwt.SigningMethodEdDSA, nil
	case crypto.Signer:
		if _, ok := k.Public().(ed25519.PublicKey); ok {
			return jwt.SigningMethodEdDSA, nil
		}
		return nil, ErrInvalidKey
	default:
		return nil, ErrInvalidKey
	}
}

// DecodeSignature accepts standard or URL-safe base64, padded or not.
func DecodeSignature(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrInvalidSignature
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, ErrInvalidSignature
}

// VerifyDetached verifies a base64 signature over payload with pub (RSA, ECDSA P-256 or Ed25519).
func VerifyDetached(payload []byte, signature string, pub crypto.PublicKey) error {
	method, err := signingMethodFor(pub)
	if err != nil {
		return err
	}
	sig, err := DecodeSignature(signature)
	if err != nil {
		return err
	}
	if err := method.Verify(string(payload), sig, pub); err != nil {
		return ErrInvalidSignature
	}
	return nil
}

// SignDetached signs payload with key and returns the signature as standard base64.
func SignDetached(payload []byte, key crypto.Signer) (string, error) {
	method, err := signingMethodFor(key)
	if err != nil {
		return "", err
	}
	sig, err := method.Sign(string(payload), key)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}
