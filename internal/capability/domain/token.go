// Package domain defines the capability token model and its structural parsing.
package domain

import "time"

// Capability grants a set of permissions on one named operation.
type Capability struct {
	FunctionName string         `json:"function_name"`
	Permissions  []string       `json:"permissions"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// ResourceLimits bounds request rate and payload size.
type ResourceLimits struct {
	MaxRequestsPerMinute *int   `json:"max_requests_per_minute,omitempty"`
	MaxDataSize          *int64 `json:"max_data_size,omitempty"`
}

// SpatialConstraints restricts the regions a token may be exercised from.
type SpatialConstraints struct {
	AllowedRegions  []string `json:"allowed_regions,omitempty"`
	ExcludedRegions []string `json:"excluded_regions,omitempty"`
}

// Constraints are the limits declared by the issuer. A nil or empty field is unconstrained.
type Constraints struct {
	MaxUses            *int                `json:"max_uses,omitempty"`
	TimeLimit          *int64              `json:"time_limit,omitempty"`
	IPWhitelist        []string            `json:"ip_whitelist,omitempty"`
	ResourceLimits     *ResourceLimits     `json:"resource_limits,omitempty"`
	SpatialConstraints *SpatialConstraints `json:"spatial_constraints,omitempty"`
}

// HasSpatial reports whether any region restriction is declared.
func (c Constraints) HasSpatial() bool {
	s := c.SpatialConstraints
	return s != nil && (len(s.AllowedRegions) > 0 || len(s.ExcludedRegions) > 0)
}

// CapabilityToken is a signed, time-boxed grant from Issuer to Delegate.
type CapabilityToken struct {
	Version      string       `json:"version"`
	Issuer       string       `json:"issuer"`
	Delegate     string       `json:"delegate"`
	Capabilities []Capability `json:"capabilities"`
	Constraints  Constraints  `json:"constraints"`
	IssuedAt     int64        `json:"issued_at"`
	ExpiresAt    int64        `json:"expires_at"`
	Nonce        string       `json:"nonce"`
	Signature    string       `json:"signature"`

	// signed holds the transported fields other than signature when the token came from Parse.
	signed RawToken
}

// SigningPayload is the signed subset of a token. It is serialized canonically before verification.
type SigningPayload struct {
	Version      string       `json:"version"`
	Issuer       string       `json:"issuer"`
	Delegate     string       `json:"delegate"`
	Capabilities []Capability `json:"capabilities"`
	Constraints  Constraints  `json:"constraints"`
	IssuedAt     int64        `json:"issued_at"`
	ExpiresAt    int64        `json:"expires_at"`
	Nonce        string       `json:"nonce"`
}

// Payload returns the signed subset of t.
func (t *CapabilityToken) Payload() SigningPayload {
	return SigningPayload{
		Version:      t.Version,
		Issuer:       t.Issuer,
		Delegate:     t.Delegate,
		Capabilities: t.Capabilities,
		Constraints:  t.Constraints,
		IssuedAt:     t.IssuedAt,
		ExpiresAt:    t.ExpiresAt,
		Nonce:        t.Nonce,
	}
}

// CapabilityNames returns the granted function names in token order.
func (t *CapabilityToken) CapabilityNames() []string {
	names := make([]string, 0, len(t.Capabilities))
	for _, c := range t.Capabilities {
		names = append(names, c.FunctionName)
	}
	return names
}

// MissingCapabilities returns the names in required that t does not grant.
func (t *CapabilityToken) MissingCapabilities(required []string) []string {
	granted := make(map[string]struct{}, len(t.Capabilities))
	for _, c := range t.Capabilities {
		granted[c.FunctionName] = struct{}{}
	}
	var missing []string
	for _, r := range required {
		if _, ok := granted[r]; !ok {
			missing = append(missing, r)
		}
	}
	return missing
}

// Expired reports whether expires_at is before now.
func (t *CapabilityToken) Expired(now time.Time) bool {
	return t.ExpiresAt < now.Unix()
}

// TimeRemaining returns whole seconds until expiry, never negative.
func (t *CapabilityToken) TimeRemaining(now time.Time) int64 {
	if d := t.ExpiresAt - now.Unix(); d > 0 {
		return d
	}
	return 0
}

// RemainingUses returns max_uses minus used, or nil when uses are unlimited.
func (t *CapabilityToken) RemainingUses(used int) *int {
	if t.Constraints.MaxUses == nil {
		return nil
	}
	n := *t.Constraints.MaxUses - used
	if n < 0 {
		n = 0
	}
	return &n
}
