// Package constraint enforces the limits a capability token declares.
package constraint

import (
	"context"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"x402-delegation/backend/internal/capability/domain"
	"x402-delegation/backend/internal/policy/engine"
)

// RateWindow is the sliding window of the per-minute request limit.
const RateWindow = time.Minute

// Kind identifies the constraint dimension a violation belongs to.
type Kind string

const (
	KindUsage   Kind = "usage"
	KindTime    Kind = "time"
	KindIP      Kind = "ip"
	KindRate    Kind = "rate"
	KindSpatial Kind = "spatial"
	KindPolicy  Kind = "policy"
)

// Violation is one failed constraint with a human-readable message.
type Violation struct {
	Kind    Kind
	Message string
}

// UsageCounter counts successful usage records of a session since a point in time.
type UsageCounter interface {
	CountSince(ctx context.Context, sessionID string, since time.Time) (int, error)
}

// PolicyEvaluator returns extra deny messages for a request.
type PolicyEvaluator interface {
	Deny(ctx context.Context, in engine.Input) ([]string, error)
}

// RegionResolver maps a client IP to a region code.
type RegionResolver interface {
	Region(ctx context.Context, ip string) (string, error)
}

// CheckInput carries the request facts the constraints are evaluated against.
type CheckInput struct {
	SessionID string
	// PriorUses is the number of successful validations already counted for the session.
	PriorUses int
	ClientIP  string
	DataSize  int64
	Operation string
	Method    string
	Path      string
	Now       time.Time
}

// Enforcer checks every declared constraint and reports all violations at once.
type Enforcer struct {
	usage   UsageCounter
	policy  PolicyEvaluator
	regions RegionResolver
}

// NewEnforcer returns an Enforcer. policy and regions may be nil.
func NewEnforcer(usage UsageCounter, policy PolicyEvaluator, regions RegionResolver) *Enforcer {
	return &Enforcer{usage: usage, policy: policy, regions: regions}
}

// Check evaluates usage, elapsed time, IP allow-list, rate, spatial and policy constraints.
// It never short-circuits; an empty result means every constraint is met.
func (e *Enforcer) Check(ctx context.Context, token *domain.CapabilityToken, in CheckInput) []Violation {
	c := token.Constraints
	var out []Violation

	if c.MaxUses != nil && in.PriorUses >= *c.MaxUses {
		out = append(out, Violation{KindUsage, fmt.Sprintf("usage limit exceeded: %d of %d uses consumed", in.PriorUses, *c.MaxUses)})
	}

	if c.TimeLimit != nil {
		if elapsed := in.Now.Unix() - token.IssuedAt; elapsed > *c.TimeLimit {
			out = append(out, Violation{KindTime, fmt.Sprintf("time limit exceeded: %ds since issuance, limit %ds", elapsed, *c.TimeLimit)})
		}
	}

	if len(c.IPWhitelist) > 0 && !ipAllowed(in.ClientIP, c.IPWhitelist) {
		out = append(out, Violation{KindIP, fmt.Sprintf("IP address %s is not in the allowed list", in.ClientIP)})
	}

	if rl := c.ResourceLimits; rl != nil && rl.MaxRequestsPerMinute != nil {
		out = append(out, e.checkRate(ctx, in, *rl.MaxRequestsPerMinute)...)
	}

	region := ""
	if c.HasSpatial() {
		var v []Violation
		region, v = e.checkSpatial(ctx, in.ClientIP, c.SpatialConstraints)
		out = append(out, v...)
	}

	if e.policy != nil {
		deny, err := e.policy.Deny(ctx, engine.Input{
			Token: token,
			Request: engine.RequestFacts{
				Operation: in.Operation,
				Method:    in.Method,
				Path:      in.Path,
				IP:        in.ClientIP,
				DataSize:  in.DataSize,
				Region:    region,
			},
			Now: in.Now.Unix(),
		})
		if err != nil {
			log.Printf("constraint: policy evaluation: %v", err)
		}
		for _, msg := range deny {
			out = append(out, Violation{KindPolicy, msg})
		}
	}
	return out
}

func (e *Enforcer) checkRate(ctx context.Context, in CheckInput, limit int) []Violation {
	if e.usage == nil {
		return nil
	}
	n, err := e.usage.CountSince(ctx, in.SessionID, in.Now.Add(-RateWindow))
	if err != nil {
		log.Printf("constraint: rate count for session %s: %v", in.SessionID, err)
		return []Violation{{KindRate, "rate limit state unavailable"}}
	}
	if n >= limit {
		return []Violation{{KindRate, fmt.Sprintf("rate limit exceeded: %d requests in the last minute, limit %d", n, limit)}}
	}
	return nil
}

func (e *Enforcer) checkSpatial(ctx context.Context, ip string, s *domain.SpatialConstraints) (string, []Violation) {
	if e.regions == nil {
		return "", []Violation{{KindSpatial, "spatial constraints declared but no region resolver is configured"}}
	}
	region, err := e.regions.Region(ctx, ip)
	if err != nil {
		log.Printf("constraint: resolve region for %s: %v", ip, err)
		return "", []Violation{{KindSpatial, "region could not be determined for spatial constraints"}}
	}
	for _, r := range s.ExcludedRegions {
		if strings.EqualFold(r, region) {
			return region, []Violation{{KindSpatial, fmt.Sprintf("region %s is excluded", region)}}
		}
	}
	if len(s.AllowedRegions) > 0 {
		for _, r := range s.AllowedRegions {
			if strings.EqualFold(r, region) {
				return region, nil
			}
		}
		return region, []Violation{{KindSpatial, fmt.Sprintf("region %s is not in the allowed regions", region)}}
	}
	return region, nil
}

// ipAllowed matches ip against single addresses and CIDR blocks.
func ipAllowed(ip string, list []string) bool {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	for _, entry := range list {
		entry = strings.TrimSpace(entry)
		if entry == ip {
			return true
		}
		if parsed == nil {
			continue
		}
		if strings.Contains(entry, "/") {
			if _, block, err := net.ParseCIDR(entry); err == nil && block.Contains(parsed) {
				return true
			}
			continue
		}
		if other := net.ParseIP(entry); other != nil && other.Equal(parsed) {
			return true
		}
	}
	return false
}

// Messages flattens violations to their messages.
func Messages(vs []Violation) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.Message)
	}
	return out
}

// OnlyRate reports whether every violation is a rate violation.
func OnlyRate(vs []Violation) bool {
	if len(vs) == 0 {
		return false
	}
	for _, v := range vs {
		if v.Kind != KindRate {
			return false
		}
	}
	return true
}
