package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// RawToken is a token object as extracted from transport, keyed by top-level field.
type RawToken map[string]json.RawMessage

// Parse checks that every required field of raw is present and correctly typed and
// decodes it. All structural problems are returned together; the token is nil when any exist.
func Parse(raw RawToken) (*CapabilityToken, []string) {
	if raw == nil {
		return nil, []string{"token must be a JSON object"}
	}
	var (
		t    CapabilityToken
		errs []string
	)
	str := func(field string, dst *string) {
		v, ok := raw[field]
		if !ok || isNull(v) {
			errs = append(errs, fmt.Sprintf("missing required field: %s", field))
			return
		}
		if err := json.Unmarshal(v, dst); err != nil {
			errs = append(errs, fmt.Sprintf("field %s must be a string", field))
			return
		}
		if *dst == "" {
			errs = append(errs, fmt.Sprintf("field %s must not be empty", field))
		}
	}
	integer := func(field string, dst *int64) bool {
		v, ok := raw[field]
		if !ok || isNull(v) {
			errs = append(errs, fmt.Sprintf("missing required field: %s", field))
			return false
		}
		if err := json.Unmarshal(v, dst); err != nil {
			errs = append(errs, fmt.Sprintf("field %s must be an integer timestamp", field))
			return false
		}
		return true
	}

	str("version", &t.Version)
	str("issuer", &t.Issuer)
	str("delegate", &t.Delegate)
	str("nonce", &t.Nonce)
	str("signature", &t.Signature)
	okIssued := integer("issued_at", &t.IssuedAt)
	okExpires := integer("expires_at", &t.ExpiresAt)
	if okIssued && okExpires && t.ExpiresAt <= t.IssuedAt {
		errs = append(errs, "expires_at must be after issued_at")
	}

	errs = append(errs, parseCapabilities(raw["capabilities"], &t.Capabilities)...)

	if v, ok := raw["constraints"]; ok && !isNull(v) {
		if err := json.Unmarshal(v, &t.Constraints); err != nil {
			errs = append(errs, fmt.Sprintf("field constraints is malformed: %v", err))
		} else {
			errs = append(errs, t.Constraints.validate()...)
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}
	t.signed = make(RawToken, len(raw))
	for k, v := range raw {
		if k != "signature" {
			t.signed[k] = v
		}
	}
	return &t, nil
}

// SignedFields returns the token fields as transported, without the signature, or nil when
// the token was not built by Parse.
func (t *CapabilityToken) SignedFields() RawToken {
	return t.signed
}

func parseCapabilities(v json.RawMessage, dst *[]Capability) []string {
	if len(v) == 0 || isNull(v) {
		return []string{"missing required field: capabilities"}
	}
	var items []map[string]json.RawMessage
	if err := json.Unmarshal(v, &items); err != nil {
		return []string{"field capabilities must be an array of objects"}
	}
	if len(items) == 0 {
		return []string{"capabilities must not be empty"}
	}
	var errs []string
	caps := make([]Capability, 0, len(items))
	for i, item := range items {
		var c Capability
		if err := json.Unmarshal(item["function_name"], &c.FunctionName); err != nil || c.FunctionName == "" {
			errs = append(errs, fmt.Sprintf("capabilities[%d]: function_name is required", i))
		}
		if err := json.Unmarshal(item["permissions"], &c.Permissions); err != nil || len(c.Permissions) == 0 {
			errs = append(errs, fmt.Sprintf("capabilities[%d]: permissions must be a non-empty list of strings", i))
		}
		if m, ok := item["metadata"]; ok && !isNull(m) {
			if err := json.Unmarshal(m, &c.Metadata); err != nil {
				errs = append(errs, fmt.Sprintf("capabilities[%d]: metadata must be an object", i))
			}
		}
		caps = append(caps, c)
	}
	*dst = caps
	return errs
}

func (c Constraints) validate() []string {
	var errs []string
	if c.MaxUses != nil && *c.MaxUses < 0 {
		errs = append(errs, "constraints.max_uses must not be negative")
	}
	if c.TimeLimit != nil && *c.TimeLimit < 0 {
		errs = append(errs, "constraints.time_limit must not be negative")
	}
	if rl := c.ResourceLimits; rl != nil {
		if rl.MaxRequestsPerMinute != nil && *rl.MaxRequestsPerMinute < 0 {
			errs = append(errs, "constraints.resource_limits.max_requests_per_minute must not be negative")
		}
		if rl.MaxDataSize != nil && *rl.MaxDataSize < 0 {
			errs = append(errs, "constraints.resource_limits.max_data_size must not be negative")
		}
	}
	return errs
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}
