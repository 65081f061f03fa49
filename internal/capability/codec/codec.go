// Package codec extracts capability tokens from transport-neutral requests.
package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"strings"

	"x402-delegation/backend/internal/capability/domain"
	"x402-delegation/backend/internal/platform/httpx"
)

// ErrNoToken is returned when no source carries a parseable token object.
var ErrNoToken = errors.New("no capability token found")

const (
	// AuthScheme is the Authorization scheme carrying a base64 JSON token.
	AuthScheme = "X402"
	// HeaderName carries a raw JSON token.
	HeaderName = "X-Capability-Token"
)

// BodyFields are the request body fields checked for a token, in order.
var BodyFields = []string{"x402_token", "capability_token"}

// Extract returns the first token object found in req, trying the Authorization header,
// then X-Capability-Token, then the body fields. A source that fails to parse is logged
// and skipped.
func Extract(req httpx.Request) (domain.RawToken, error) {
	if auth := strings.TrimSpace(req.Header("Authorization")); auth != "" {
		if scheme, rest, ok := strings.Cut(auth, " "); ok && strings.EqualFold(scheme, AuthScheme) {
			raw, err := decodeBase64JSON(strings.TrimSpace(rest))
			if err == nil {
				return raw, nil
			}
			log.Printf("codec: authorization header: %v", err)
		}
	}
	if h := strings.TrimSpace(req.Header(HeaderName)); h != "" {
		raw, err := decodeObject([]byte(h))
		if err == nil {
			return raw, nil
		}
		log.Printf("codec: %s header: %v", HeaderName, err)
	}
	if fields := req.BodyFields(); fields != nil {
		for _, name := range BodyFields {
			v, ok := fields[name]
			if !ok {
				continue
			}
			raw, err := decodeBodyField(v)
			if err == nil {
				return raw, nil
			}
			log.Printf("codec: body field %s: %v", name, err)
		}
	}
	return nil, ErrNoToken
}

// Encode renders a token as the value of an "Authorization: X402 ..." header.
func Encode(token any) (string, error) {
	b, err := json.Marshal(token)
	if err != nil {
		return "", err
	}
	return AuthScheme + " " + base64.StdEncoding.EncodeToString(b), nil
}

func decodeBase64JSON(s string) (domain.RawToken, error) {
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		b, err := enc.DecodeString(s)
		if err != nil {
			continue
		}
		return decodeObject(b)
	}
	return nil, errors.New("invalid base64")
}

// decodeBodyField accepts the token as a JSON object or as a string holding one.
func decodeBodyField(v json.RawMessage) (domain.RawToken, error) {
	trimmed := bytes.TrimSpace(v)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, err
		}
		return decodeObject([]byte(s))
	}
	return decodeObject(trimmed)
}

func decodeObject(b []byte) (domain.RawToken, error) {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, errors.New("token is not a JSON object")
	}
	var raw domain.RawToken
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}
