// Package domain defines the registry catalog entry for X.402-protected services.
package domain

import (
	"time"

	"github.com/google/uuid"

	capdomain "x402-delegation/backend/internal/capability/domain"
)

// Status is the lifecycle state of a registered service.
type Status string

const (
	StatusActive     Status = "active"
	StatusInactive   Status = "inactive"
	StatusDeprecated Status = "deprecated"
)

// Namespace is the fixed UUIDv5 namespace service ids are derived in.
var Namespace = uuid.MustParse("6f2b5c0e-8a41-5d3e-9b7a-402a402a402a")

// ServiceID derives the deterministic id of a service from its name and base URL.
func ServiceID(name, baseURL string) string {
	return uuid.NewSHA1(Namespace, []byte(name+"|"+baseURL)).String()
}

// Function is one operation advertised in a service manifest.
type Function struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Permissions []string       `json:"permissions,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	// Price is the per-call price in the service's currency; zero means free.
	Price float64 `json:"price,omitempty"`
}

// Manifest is the capability catalog a service advertises for discovery.
type Manifest struct {
	Description string     `json:"description,omitempty"`
	Functions   []Function `json:"functions"`
}

// Function returns the manifest function named name.
func (m Manifest) Function(name string) (Function, bool) {
	for _, f := range m.Functions {
		if f.Name == name {
			return f, true
		}
	}
	return Function{}, false
}

// X402Config describes how a service accepts delegations and payments.
type X402Config struct {
	Version            string                `json:"version,omitempty"`
	PaymentSchemes     []string              `json:"payment_schemes,omitempty"`
	Currency           string                `json:"currency,omitempty"`
	Recipient          string                `json:"recipient,omitempty"`
	DefaultConstraints capdomain.Constraints `json:"default_constraints"`
	// HealthPath is appended to the base URL for health checks; defaults to DefaultHealthPath.
	HealthPath string `json:"health_path,omitempty"`
}

// DefaultHealthPath is probed when a service declares no health path.
const DefaultHealthPath = "/health"

// Service is a registry entry. Entries are never physically deleted.
type Service struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	BaseURL  string     `json:"base_url"`
	Provider string     `json:"provider,omitempty"`
	X402     X402Config `json:"x402_config"`
	Manifest Manifest   `json:"manifest"`
	// DelegationEndpoints maps endpoint names (e.g. "validate") to paths on BaseURL.
	DelegationEndpoints map[string]string `json:"delegation_endpoints"`
	Tags                []string          `json:"tags,omitempty"`
	Status              Status            `json:"status"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
	LastVerified        *time.Time        `json:"last_verified,omitempty"`
	// LastChecked is the time of the latest health check, successful or not.
	LastChecked *time.Time `json:"last_checked,omitempty"`
}

// HealthURL is the URL probed by health checks.
func (s *Service) HealthURL() string {
	p := s.X402.HealthPath
	if p == "" {
		p = DefaultHealthPath
	}
	return s.BaseURL + p
}

// Clone returns a deep copy of s, or nil when s is nil.
func (s *Service) Clone() *Service {
	if s == nil {
		return nil
	}
	c := *s
	if s.LastVerified != nil {
		t := *s.LastVerified
		c.LastVerified = &t
	}
	if s.LastChecked != nil {
		t := *s.LastChecked
		c.LastChecked = &t
	}
	c.Tags = append([]string(nil), s.Tags...)
	c.Manifest.Functions = append([]Function(nil), s.Manifest.Functions...)
	c.X402.PaymentSchemes = append([]string(nil), s.X402.PaymentSchemes...)
	if s.DelegationEndpoints != nil {
		c.DelegationEndpoints = make(map[string]string, len(s.DelegationEndpoints))
		for k, v := range s.DelegationEndpoints {
			c.DelegationEndpoints[k] = v
		}
	}
	return &c
}

// Spec is the registration input for a service.
type Spec struct {
	Name                string            `json:"name"`
	BaseURL             string            `json:"base_url"`
	Provider            string            `json:"provider"`
	X402                X402Config        `json:"x402_config"`
	Manifest            Manifest          `json:"manifest"`
	DelegationEndpoints map[string]string `json:"delegation_endpoints"`
	Tags                []string          `json:"tags"`
}

// SearchOptions filter, order and page a catalog search. Empty filters match everything.
type SearchOptions struct {
	Status       Status
	Tags         []string
	Capabilities []string
	Providers    []string
	ExcludeTags  []string
	Query        string
	Offset       int
	Limit        int
}

// SearchResult is one page of a catalog search.
type SearchResult struct {
	Services []*Service `json:"services"`
	Total    int        `json:"total"`
	Offset   int        `json:"offset"`
	Limit    int        `json:"limit"`
	HasMore  bool       `json:"has_more"`
}

// DelegationRequest is the unsigned delegation a caller should have an issuer sign for a service.
type DelegationRequest struct {
	ServiceID    string                 `json:"service_id"`
	ServiceName  string                 `json:"service_name"`
	Delegate     string                 `json:"delegate"`
	Capabilities []capdomain.Capability `json:"capabilities"`
	Constraints  capdomain.Constraints  `json:"constraints"`
	ExpiresIn    int64                  `json:"expires_in"`
	Endpoints    map[string]string      `json:"delegation_endpoints"`
}
