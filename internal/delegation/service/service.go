// Package service orchestrates capability token validation into one delegation pipeline.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"x402-delegation/backend/internal/capability/codec"
	capdomain "x402-delegation/backend/internal/capability/domain"
	"x402-delegation/backend/internal/capability/constraint"
	"x402-delegation/backend/internal/delegation/events"
	"x402-delegation/backend/internal/platform/errcode"
	"x402-delegation/backend/internal/platform/httpx"
	"x402-delegation/backend/internal/platform/keylock"
	sessiondomain "x402-delegation/backend/internal/session/domain"
	sessionservice "x402-delegation/backend/internal/session/service"
	usagedomain "x402-delegation/backend/internal/usage/domain"
)

// DefaultCleanupInterval is used when Config.CleanupInterval is not positive.
const DefaultCleanupInterval = 5 * time.Minute

// ErrSessionNotFound is returned by session accessors for unknown ids.
var ErrSessionNotFound = sessionservice.ErrSessionNotFound

// Validator checks token structure, signature, issuer and expiry.
type Validator interface {
	Parse(raw capdomain.RawToken) (*capdomain.CapabilityToken, []string)
	VerifySignature(token *capdomain.CapabilityToken) error
	ValidateIssuer(issuer string) bool
	ValidateExpiry(token *capdomain.CapabilityToken, now time.Time) bool
}

// Enforcer checks declared constraints.
type Enforcer interface {
	Check(ctx context.Context, token *capdomain.CapabilityToken, in constraint.CheckInput) []constraint.Violation
}

// Sessions is the session manager surface the pipeline uses.
type Sessions interface {
	Lookup(ctx context.Context, token *capdomain.CapabilityToken) (*sessiondomain.Session, error)
	GetOrCreate(ctx context.Context, token *capdomain.CapabilityToken) (*sessiondomain.Session, bool, error)
	Revoke(ctx context.Context, id string) (*sessiondomain.Session, error)
	Get(ctx context.Context, id string) (*sessiondomain.Session, error)
	CountActive(ctx context.Context) (int, error)
	Cleanup(ctx context.Context, now time.Time) (int, error)
}

// Usage is the usage recorder surface the pipeline uses.
type Usage interface {
	Record(ctx context.Context, rec *usagedomain.Record) error
	Count(ctx context.Context, sessionID string) (int, error)
	List(ctx context.Context, sessionID string) ([]*usagedomain.Record, error)
	Total(ctx context.Context) (int, error)
	Cleanup(ctx context.Context, now time.Time) (int, error)
}

// Config holds pipeline settings.
type Config struct {
	// RequiredCapabilities must all be granted by every token.
	RequiredCapabilities []string
	EnableUsageTracking  bool
	CleanupInterval      time.Duration
}

// Result is the structured outcome of ValidateDelegation.
type Result struct {
	Valid          bool                   `json:"valid"`
	Code           errcode.Code           `json:"code,omitempty"`
	Errors         []string               `json:"errors,omitempty"`
	Capabilities   []capdomain.Capability `json:"capabilities,omitempty"`
	ConstraintsMet bool                   `json:"constraints_met"`
	RemainingUses  *int                   `json:"remaining_uses,omitempty"`
	TimeRemaining  int64                  `json:"time_remaining,omitempty"`
	SessionID      string                 `json:"session_id,omitempty"`

	// Token is the validated token; never serialized.
	Token *capdomain.CapabilityToken `json:"-"`
}

// Stats are the aggregate pipeline counters.
type Stats struct {
	TotalRequests  int64 `json:"total_requests"`
	ValidTokens    int64 `json:"valid_tokens"`
	InvalidTokens  int64 `json:"invalid_tokens"`
	ActiveSessions int   `json:"active_sessions"`
	UsageRecords   int   `json:"usage_records"`
}

// SessionView is a session together with its usage log.
type SessionView struct {
	Session *sessiondomain.Session `json:"session"`
	Usage   []*usagedomain.Record  `json:"usage"`
}

// Service runs the delegation pipeline and owns its statistics.
type Service struct {
	validator Validator
	enforcer  Enforcer
	sessions  Sessions
	usage     Usage
	events    events.Handler
	cfg       Config
	locks     *keylock.Table
	nowF      func() time.Time

	totalRequests atomic.Int64
	validTokens   atomic.Int64
	invalidTokens atomic.Int64
}

// NewService returns a delegation service. handler may be nil.
func NewService(v Validator, e Enforcer, sessions Sessions, usage Usage, handler events.Handler, cfg Config) *Service {
	if handler == nil {
		handler = events.Nop{}
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	return &Service{
		validator: v,
		enforcer:  e,
		sessions:  sessions,
		usage:     usage,
		events:    handler,
		cfg:       cfg,
		locks:     keylock.New(),
		nowF:      time.Now,
	}
}

func reject(code errcode.Code, errs ...string) Result {
	return Result{Code: code, Errors: errs}
}

// ValidateDelegation runs extraction, structure, signature, issuer, expiry, capability coverage,
// constraints, session and usage stages in order, stopping at the first failure.
// It never panics; unexpected errors become a VALIDATION_ERROR result.
func (s *Service) ValidateDelegation(ctx context.Context, req httpx.Request) (res Result) {
	start := s.nowF()
	s.totalRequests.Add(1)
	ctx, span := otel.Tracer("x402/delegation").Start(ctx, "delegation.validate")
	var token *capdomain.CapabilityToken

	defer func() {
		if r := recover(); r != nil {
			log.Printf("delegation: validation panic: %v", r)
			res = reject(errcode.ValidationError, "internal validation error")
		}
		if res.Valid {
			s.validTokens.Add(1)
		} else {
			s.invalidTokens.Add(1)
			ev := events.TokenRejected{Code: res.Code, Errors: res.Errors, SessionID: res.SessionID, At: s.nowF().UTC()}
			if token != nil {
				ev.Issuer, ev.Delegate = token.Issuer, token.Delegate
			}
			s.events.TokenRejected(ctx, ev)
			span.SetStatus(codes.Error, string(res.Code))
		}
		span.SetAttributes(attribute.Bool("delegation.valid", res.Valid), attribute.String("delegation.code", string(res.Code)))
		span.End()
	}()

	// 1. extract
	raw, err := codec.Extract(req)
	if err != nil {
		return reject(errcode.InvalidTokenFormat, "no capability token found")
	}

	// 2. structure
	token, errs := s.validator.Parse(raw)
	if len(errs) > 0 {
		return reject(errcode.InvalidTokenFormat, errs...)
	}

	// 3. signature
	if err := s.validator.VerifySignature(token); err != nil {
		return reject(errcode.InvalidSignature, "invalid token signature")
	}

	// 4. issuer
	if !s.validator.ValidateIssuer(token.Issuer) {
		return reject(errcode.UnauthorizedIssuer, fmt.Sprintf("issuer %s is not authorized", token.Issuer))
	}

	// 5. expiry
	now := s.nowF()
	if !s.validator.ValidateExpiry(token, now) {
		return reject(errcode.TokenExpired, "token has expired")
	}

	// 6. capability coverage
	if missing := token.MissingCapabilities(s.required(req.Operation)); len(missing) > 0 {
		return reject(errcode.InsufficientPermissions, "missing required capabilities: "+strings.Join(missing, ", "))
	}

	// 7. constraints
	// Stages 7-9 of one session run one at a time so the usage count read here is still current when
	// the use is recorded. GetOrCreate re-checks max_uses atomically for writers in other processes.
	sessionID := sessionservice.SessionID(token)
	unlock := s.locks.Lock(sessionID)
	defer unlock()
	existing, err := s.sessions.Lookup(ctx, token)
	if err != nil {
		return s.internal("session lookup", sessionID, err)
	}
	if existing != nil && !existing.Active {
		res = reject(errcode.DelegationRevoked, "delegation has been revoked")
		res.SessionID = sessionID
		return res
	}
	prior, err := s.priorUses(ctx, sessionID, existing)
	if err != nil {
		return s.internal("usage count", sessionID, err)
	}
	violations := s.enforcer.Check(ctx, token, constraint.CheckInput{
		SessionID: sessionID,
		PriorUses: prior,
		ClientIP:  req.IP,
		DataSize:  int64(len(req.Body)),
		Operation: req.Operation,
		Method:    req.Method,
		Path:      req.Pathname,
		Now:       now,
	})
	if len(violations) > 0 {
		code := errcode.ConstraintViolation
		if constraint.OnlyRate(violations) {
			code = errcode.RateLimited
		}
		res = reject(code, constraint.Messages(violations)...)
		res.SessionID = sessionID
		return res
	}

	// 8. session
	sess, created, err := s.sessions.GetOrCreate(ctx, token)
	if errors.Is(err, sessionservice.ErrUsageExhausted) {
		res = reject(errcode.ConstraintViolation, fmt.Sprintf("usage limit exceeded: %d uses allowed", *token.Constraints.MaxUses))
		res.SessionID = sessionID
		return res
	}
	if err != nil {
		return s.internal("session get-or-create", sessionID, err)
	}
	if !sess.Active {
		res = reject(errcode.DelegationRevoked, "delegation has been revoked")
		res.SessionID = sessionID
		return res
	}
	if created {
		s.events.SessionCreated(ctx, events.SessionCreated{SessionID: sess.ID, Issuer: token.Issuer, Delegate: token.Delegate, At: sess.CreatedAt})
	}

	// 9. usage
	if s.cfg.EnableUsageTracking {
		rec := &usagedomain.Record{
			SessionID:       sess.ID,
			Capability:      s.capabilityName(req, token),
			UsedAt:          now.UTC(),
			Parameters:      map[string]any{"method": req.Method, "path": req.Pathname},
			Result:          usagedomain.ResultSuccess,
			ExecutionTimeMs: s.nowF().Sub(start).Milliseconds(),
		}
		if err := s.usage.Record(ctx, rec); err != nil {
			return s.internal("usage record", sessionID, err)
		}
		s.events.UsageRecorded(ctx, events.UsageRecorded{
			SessionID:       rec.SessionID,
			Capability:      rec.Capability,
			Result:          string(rec.Result),
			ExecutionTimeMs: rec.ExecutionTimeMs,
			At:              rec.UsedAt,
		})
	}

	// 10. success
	res = Result{
		Valid:          true,
		Capabilities:   token.Capabilities,
		ConstraintsMet: true,
		RemainingUses:  token.RemainingUses(prior + 1),
		TimeRemaining:  token.TimeRemaining(now),
		SessionID:      sess.ID,
		Token:          token,
	}
	s.events.TokenValidated(ctx, events.TokenValidated{
		SessionID:     sess.ID,
		Issuer:        token.Issuer,
		Delegate:      token.Delegate,
		Capabilities:  token.CapabilityNames(),
		RemainingUses: res.RemainingUses,
		TimeRemaining: res.TimeRemaining,
		At:            now.UTC(),
	})
	return res
}

func (s *Service) internal(stage, sessionID string, err error) Result {
	log.Printf("delegation: %s failed for session %s: %v", stage, sessionID, err)
	return reject(errcode.ValidationError, "internal validation error")
}

// required returns the globally required capabilities plus operation, deduplicated and sorted.
func (s *Service) required(operation string) []string {
	set := make(map[string]struct{}, len(s.cfg.RequiredCapabilities)+1)
	for _, c := range s.cfg.RequiredCapabilities {
		set[c] = struct{}{}
	}
	if operation != "" {
		set[operation] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// priorUses is the number of successful validations already made with the token identity.
// A session is created on the first success with usage_count 0, so it has seen usage_count+1 successes.
// With tracking enabled the usage log is also consulted and the larger count wins.
func (s *Service) priorUses(ctx context.Context, sessionID string, existing *sessiondomain.Session) (int, error) {
	prior := 0
	if existing != nil {
		prior = existing.UsageCount + 1
	}
	if s.cfg.EnableUsageTracking {
		n, err := s.usage.Count(ctx, sessionID)
		if err != nil {
			return 0, err
		}
		if n > prior {
			prior = n
		}
	}
	return prior, nil
}

func (s *Service) capabilityName(req httpx.Request, token *capdomain.CapabilityToken) string {
	if req.Operation != "" {
		return req.Operation
	}
	return token.Capabilities[0].FunctionName
}

// RevokeSession deactivates the session. Later validations with its token fail with DELEGATION_REVOKED.
func (s *Service) RevokeSession(ctx context.Context, id string) (*sessiondomain.Session, error) {
	sess, err := s.sessions.Revoke(ctx, id)
	if err != nil {
		return nil, err
	}
	s.events.SessionRevoked(ctx, events.SessionRevoked{SessionID: id, At: s.nowF().UTC()})
	return sess, nil
}

// GetSession returns the session with its usage log.
func (s *Service) GetSession(ctx context.Context, id string) (*SessionView, error) {
	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	recs, err := s.usage.List(ctx, id)
	if err != nil {
		return nil, err
	}
	return &SessionView{Session: sess, Usage: recs}, nil
}

// Stats returns the pipeline counters with live session and usage totals.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	st := Stats{
		TotalRequests: s.totalRequests.Load(),
		ValidTokens:   s.validTokens.Load(),
		InvalidTokens: s.invalidTokens.Load(),
	}
	var err error
	if st.ActiveSessions, err = s.sessions.CountActive(ctx); err != nil {
		return st, err
	}
	if st.UsageRecords, err = s.usage.Total(ctx); err != nil {
		return st, err
	}
	return st, nil
}

// Cleanup prunes idle sessions and expired usage records.
func (s *Service) Cleanup(ctx context.Context) error {
	now := s.nowF()
	sessions, serr := s.sessions.Cleanup(ctx, now)
	records, uerr := s.usage.Cleanup(ctx, now)
	if sessions > 0 || records > 0 {
		log.Printf("delegation: cleanup removed %d sessions and %d usage records", sessions, records)
	}
	return errors.Join(serr, uerr)
}

// Run calls Cleanup every CleanupInterval until ctx is done.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Cleanup(ctx); err != nil {
				log.Printf("delegation: cleanup: %v", err)
			}
		}
	}
}
