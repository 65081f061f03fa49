// Package service implements the payment facilitator: the payment session state machine,
// verification with caching, and the HTTP 402 challenge and resubmission contract.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"x402-delegation/backend/internal/payment/domain"
	"x402-delegation/backend/internal/payment/scheme"
	"x402-delegation/backend/internal/platform/errcode"
	"x402-delegation/backend/internal/platform/httpx"
	"x402-delegation/backend/internal/security"
	"x402-delegation/backend/internal/telemetry"
	telemetrydomain "x402-delegation/backend/internal/telemetry/domain"
)

const (
	// PaymentHeader carries the 402 challenge details.
	PaymentHeader = "X-PAYMENT"
	// ProofHeader carries the client's payment proof on retry.
	ProofHeader = "X-Payment-Verification"
	// MaxClockSkew is how far in the future a proof timestamp may be.
	MaxClockSkew = 30 * time.Second
	// DefaultCacheTTL is used when Config.CacheTTL is not positive.
	DefaultCacheTTL = 5 * time.Minute
	// DefaultRedemptionTTL is used when Config.RedemptionTTL is not positive.
	DefaultRedemptionTTL = 24 * time.Hour
	// amountEpsilon absorbs float rounding when comparing paid and quoted amounts.
	amountEpsilon = 1e-9
)

var (
	ErrSessionNotFound    = errors.New("payment session not found")
	ErrNotCancellable     = errors.New("payment session is no longer pending")
	ErrVerificationFailed = errors.New("payment verification failed")
	ErrMalformedProof     = errors.New("malformed payment proof")
	ErrStaleProof         = errors.New("payment proof timestamp outside the accepted window")
	ErrNotConfirmed       = errors.New("payment not confirmed")
	ErrAlreadyRedeemed    = errors.New("payment already redeemed")
)

// Repository stores payment sessions.
type Repository interface {
	Create(ctx context.Context, s *domain.Session) error
	Get(ctx context.Context, id string) (*domain.Session, error)
	Update(ctx context.Context, s *domain.Session) error
	UpdateIf(ctx context.Context, s *domain.Session, from domain.Status) (bool, error)
	FindByTransaction(ctx context.Context, transactionID string) (*domain.Session, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// Cache stores fresh verifications and redeemed transaction ids.
type Cache interface {
	Get(ctx context.Context, transactionID string) (*domain.Verification, bool, error)
	Put(ctx context.Context, v *domain.Verification) error
	Claim(ctx context.Context, transactionID string, ttl time.Duration) (bool, error)
}

// pruner is implemented by caches that need sweeping, like the in-process one.
type pruner interface {
	Prune(ctx context.Context) int
}

// Config holds facilitator settings.
type Config struct {
	// FacilitatorURL is the public base URL used in verification URLs and challenges.
	FacilitatorURL string
	// CacheTTL bounds verification cache freshness and the proof replay window.
	CacheTTL time.Duration
	// RedemptionTTL is how long a transaction that opened the paywall stays spent.
	RedemptionTTL time.Duration
}

// Facilitator brokers payments through the scheme table.
type Facilitator struct {
	schemes  *scheme.Table
	sessions Repository
	cache    Cache
	emitter  telemetry.EventEmitter
	cfg      Config
	nowF     func() time.Time
}

// NewFacilitator returns a facilitator. emitter may be nil.
func NewFacilitator(schemes *scheme.Table, sessions Repository, cache Cache, emitter telemetry.EventEmitter, cfg Config) *Facilitator {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.RedemptionTTL <= 0 {
		cfg.RedemptionTTL = DefaultRedemptionTTL
	}
	// A proof stays acceptable for CacheTTL past a timestamp up to MaxClockSkew ahead.
	if floor := cfg.CacheTTL + MaxClockSkew; cfg.RedemptionTTL < floor {
		cfg.RedemptionTTL = floor
	}
	cfg.FacilitatorURL = strings.TrimSuffix(cfg.FacilitatorURL, "/")
	return &Facilitator{schemes: schemes, sessions: sessions, cache: cache, emitter: emitter, cfg: cfg, nowF: time.Now}
}

// Schemes returns the configured schemes in table order.
func (f *Facilitator) Schemes() []scheme.Scheme {
	return f.schemes.All()
}

func failure(code errcode.Code, msg string) domain.Result {
	return domain.Result{Code: code, Errors: []string{msg}}
}

// VerificationURL is where clients check the state of transactionID.
func (f *Facilitator) VerificationURL(transactionID string) string {
	return f.cfg.FacilitatorURL + "/v1/payments/verify/" + url.PathEscape(transactionID)
}

// ProcessPayment validates req against its scheme, then creates a session and dispatches it.
// Scheme and amount checks happen before any session is created or processor called.
// A request naming a quoted session settles that session instead of opening a new one.
func (f *Facilitator) ProcessPayment(ctx context.Context, req domain.Request) (res domain.Result) {
	ctx, span := otel.Tracer("x402/payment").Start(ctx, "payment.process")
	span.SetAttributes(attribute.String("payment.scheme", req.Scheme))
	defer func() {
		if !res.Success {
			span.SetStatus(codes.Error, string(res.Code))
		}
		span.End()
	}()

	s, ok := f.schemes.Get(req.Scheme)
	if !ok {
		return failure(errcode.PaymentSchemeUnsupported, fmt.Sprintf("payment scheme %q is not supported", req.Scheme))
	}
	if err := s.CheckAmount(req.Amount); err != nil {
		return failure(errcode.AmountOutOfRange, err.Error())
	}
	if req.Currency != "" && !strings.EqualFold(req.Currency, s.Currency) {
		return failure(errcode.InvalidRequest, fmt.Sprintf("scheme %s settles in %s, not %s", s.Name, s.Currency, req.Currency))
	}
	if s.Network == scheme.NetworkSolana && !security.IsBase58Address(req.Recipient) {
		return failure(errcode.InvalidRequest, "recipient must be a base58 Solana address")
	}
	if s.Processor == nil {
		return failure(errcode.PaymentSchemeUnsupported, fmt.Sprintf("payment scheme %q has no processor", req.Scheme))
	}
	req.Currency = s.Currency

	var sess *domain.Session
	if req.SessionID != "" {
		var fail *domain.Result
		if sess, fail = f.adoptQuote(ctx, req); fail != nil {
			return *fail
		}
	} else {
		now := f.nowF().UTC()
		sess = &domain.Session{
			ID:        uuid.NewString(),
			Request:   req,
			Status:    domain.StatusPending,
			CreatedAt: now,
			ExpiresAt: now.Add(domain.SessionTTL),
		}
		if err := f.sessions.Create(ctx, sess); err != nil {
			log.Printf("payment: create session: %v", err)
			return failure(errcode.Internal, "could not create payment session")
		}
		sess.Status = domain.StatusProcessing
		if err := f.sessions.Update(ctx, sess); err != nil {
			log.Printf("payment: session %s: %v", sess.ID, err)
		}
	}

	submitted, err := s.Processor.Submit(ctx, scheme.SubmitRequest{
		SessionID: sess.ID,
		Scheme:    s.Name,
		Network:   s.Network,
		Amount:    req.Amount,
		Currency:  s.Currency,
		Recipient: req.Recipient,
		Payer:     req.Payer,
		Memo:      req.Memo,
	})
	if err != nil {
		sess.Status = domain.StatusFailed
		sess.Error = err.Error()
		if uerr := f.sessions.Update(ctx, sess); uerr != nil {
			log.Printf("payment: session %s: %v", sess.ID, uerr)
		}
		log.Printf("payment: session %s dispatch to %s failed: %v", sess.ID, s.Name, err)
		f.emit(ctx, telemetrydomain.TypePaymentFailed, sess)
		res = failure(errcode.TransactionFailed, "transaction failed: "+err.Error())
		res.SessionID = sess.ID
		return res
	}

	v := submitted.Verification
	if v == nil {
		v = &domain.Verification{Status: domain.StatusConfirmed, Amount: req.Amount, Currency: s.Currency, Timestamp: f.nowF().UTC()}
	}
	v.TransactionID = submitted.TransactionID
	if v.Recipient == "" {
		v.Recipient = req.Recipient
	}
	if err := f.cache.Put(ctx, v); err != nil {
		log.Printf("payment: cache verification %s: %v", v.TransactionID, err)
	}

	sess.Status = domain.StatusConfirmed
	sess.TransactionID = submitted.TransactionID
	sess.VerificationURL = f.VerificationURL(submitted.TransactionID)
	if err := f.sessions.Update(ctx, sess); err != nil {
		log.Printf("payment: session %s: %v", sess.ID, err)
	}
	f.emit(ctx, telemetrydomain.TypePaymentConfirmed, sess)
	return domain.Result{
		Success:         true,
		SessionID:       sess.ID,
		TransactionID:   sess.TransactionID,
		VerificationURL: sess.VerificationURL,
	}
}

// adoptQuote moves the pending session named by req to processing. The payment must go to the
// quoted recipient in the quoted currency and cover the quoted amount.
func (f *Facilitator) adoptQuote(ctx context.Context, req domain.Request) (*domain.Session, *domain.Result) {
	reject := func(code errcode.Code, msg string) (*domain.Session, *domain.Result) {
		res := failure(code, msg)
		res.SessionID = req.SessionID
		return nil, &res
	}
	sess, err := f.GetSession(ctx, req.SessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return reject(errcode.InvalidRequest, "payment session not found or expired")
	}
	if err != nil {
		log.Printf("payment: session %s: %v", req.SessionID, err)
		return reject(errcode.Internal, "could not load payment session")
	}
	if sess.Status != domain.StatusPending {
		return reject(errcode.InvalidRequest, ErrNotCancellable.Error())
	}
	quoted := sess.Request
	switch {
	case quoted.Recipient != "" && quoted.Recipient != req.Recipient:
		return reject(errcode.InvalidRequest, "recipient does not match the quote")
	case quoted.Currency != "" && !strings.EqualFold(quoted.Currency, req.Currency):
		return reject(errcode.InvalidRequest, fmt.Sprintf("quote is in %s, not %s", quoted.Currency, req.Currency))
	case req.Amount+amountEpsilon < quoted.Amount:
		return reject(errcode.AmountOutOfRange, fmt.Sprintf("amount is below the quoted %v", quoted.Amount))
	}
	sess.Request = req
	sess.Status = domain.StatusProcessing
	ok, err := f.sessions.UpdateIf(ctx, sess, domain.StatusPending)
	if err != nil {
		log.Printf("payment: session %s: %v", sess.ID, err)
		return reject(errcode.Internal, "could not update payment session")
	}
	if !ok {
		return reject(errcode.InvalidRequest, ErrNotCancellable.Error())
	}
	return sess, nil
}

func (f *Facilitator) emit(ctx context.Context, eventType string, s *domain.Session) {
	meta, _ := json.Marshal(map[string]any{
		"payment_session_id": s.ID,
		"scheme":             s.Request.Scheme,
		"amount":             s.Request.Amount,
		"currency":           s.Request.Currency,
		"transaction_id":     s.TransactionID,
		"error":              s.Error,
	})
	telemetry.EmitAsync(f.emitter, ctx, &telemetrydomain.Event{
		EventType: eventType,
		Source:    "payment",
		Metadata:  meta,
		CreatedAt: f.nowF().UTC(),
	})
}

// VerifyPayment returns the settlement state of transactionID, from cache when fresh, otherwise from
// the processor of the owning session's scheme, or else from each scheme's processor in table order.
func (f *Facilitator) VerifyPayment(ctx context.Context, transactionID string) (*domain.Verification, error) {
	if transactionID == "" {
		return nil, ErrMalformedProof
	}
	if v, ok, err := f.cache.Get(ctx, transactionID); err != nil {
		log.Printf("payment: cache lookup %s: %v", transactionID, err)
	} else if ok {
		return v, nil
	}

	candidates := f.schemes.All()
	owner, err := f.sessions.FindByTransaction(ctx, transactionID)
	if err != nil {
		log.Printf("payment: session lookup %s: %v", transactionID, err)
		owner = nil
	}
	if owner != nil {
		if s, ok := f.schemes.Get(owner.Request.Scheme); ok {
			candidates = []scheme.Scheme{s}
		}
	}

	seen := make(map[scheme.Processor]bool)
	var errs []error
	for _, s := range candidates {
		if s.Processor == nil || seen[s.Processor] {
			continue
		}
		seen[s.Processor] = true
		v, err := s.Processor.Verify(ctx, transactionID)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
			continue
		}
		if v == nil {
			errs = append(errs, fmt.Errorf("%s: transaction unknown", s.Name))
			continue
		}
		v.TransactionID = transactionID
		if v.Recipient == "" && owner != nil {
			v.Recipient = owner.Request.Recipient
		}
		if err := f.cache.Put(ctx, v); err != nil {
			log.Printf("payment: cache verification %s: %v", transactionID, err)
		}
		return v, nil
	}
	if len(errs) > 0 {
		log.Printf("payment: verify %s: %v", transactionID, errors.Join(errs...))
	}
	return nil, ErrVerificationFailed
}

// GetSession returns the session for id. A session past its deadline is reported as not found.
func (f *Facilitator) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	s, err := f.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s == nil || s.Expired(f.nowF()) {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Cancel abandons a pending session: it is marked failed with its deadline pulled to now and is
// reclaimed by the next Cleanup. Pending sessions come from Quote.
func (f *Facilitator) Cancel(ctx context.Context, id string) error {
	s, err := f.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if s.Status != domain.StatusPending {
		return ErrNotCancellable
	}
	s.Status = domain.StatusFailed
	s.Error = "cancelled"
	s.ExpiresAt = f.nowF().UTC()
	ok, err := f.sessions.UpdateIf(ctx, s, domain.StatusPending)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotCancellable
	}
	return nil
}

// Cleanup removes sessions past their deadline and sweeps the verification cache when it needs it.
// The count covers sessions only.
func (f *Facilitator) Cleanup(ctx context.Context) (int, error) {
	if p, ok := f.cache.(pruner); ok {
		if n := p.Prune(ctx); n > 0 {
			log.Printf("payment: cache prune removed %d entries", n)
		}
	}
	return f.sessions.DeleteExpired(ctx, f.nowF())
}

// Run calls Cleanup every interval until ctx is done.
func (f *Facilitator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := f.Cleanup(ctx); err != nil {
				log.Printf("payment: cleanup: %v", err)
			} else if n > 0 {
				log.Printf("payment: cleanup removed %d sessions", n)
			}
		}
	}
}

// Challenge builds the 402 response for price. An empty scheme list offers every scheme.
func (f *Facilitator) Challenge(price domain.Price) httpx.Response {
	return f.challenge(price, "", f.nowF().Add(domain.SessionTTL))
}

// Quote opens a pending session for price and returns the 402 challenge naming it. The client
// settles it by passing the session id to ProcessPayment, or abandons it with Cancel.
func (f *Facilitator) Quote(ctx context.Context, price domain.Price) (httpx.Response, error) {
	now := f.nowF().UTC()
	req := domain.Request{Amount: price.Amount, Currency: price.Currency, Recipient: price.Recipient, Memo: price.Memo}
	sess := &domain.Session{
		ID:        uuid.NewString(),
		Request:   req,
		Status:    domain.StatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(domain.SessionTTL),
	}
	if err := f.sessions.Create(ctx, sess); err != nil {
		return httpx.Response{}, fmt.Errorf("create quote session: %w", err)
	}
	return f.challenge(price, sess.ID, sess.ExpiresAt), nil
}

func (f *Facilitator) challenge(price domain.Price, sessionID string, expires time.Time) httpx.Response {
	schemes := price.Schemes
	if len(schemes) == 0 {
		schemes = f.schemes.Names()
	}
	details := domain.PaymentDetails{
		SessionID:      sessionID,
		Facilitator:    f.cfg.FacilitatorURL,
		PaymentSchemes: schemes,
		Amount:         price.Amount,
		Currency:       price.Currency,
		Recipient:      price.Recipient,
		Memo:           price.Memo,
		ExpiresAt:      expires.UnixMilli(),
	}
	header, err := json.Marshal(details)
	if err != nil {
		log.Printf("payment: encode challenge: %v", err)
	}
	return httpx.Response{
		Status:  http.StatusPaymentRequired,
		Headers: map[string]string{PaymentHeader: string(header)},
		Body: domain.ChallengeBody{
			Error:          "Payment Required",
			PaymentDetails: details,
			Message:        fmt.Sprintf("This resource requires a payment of %v %s", price.Amount, price.Currency),
		},
	}
}

// ParseProof decodes an X-Payment-Verification header value.
func ParseProof(header string) (*domain.Proof, error) {
	var p domain.Proof
	if err := json.Unmarshal([]byte(strings.TrimSpace(header)), &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedProof, err)
	}
	if p.TransactionID == "" || p.Timestamp == 0 {
		return nil, fmt.Errorf("%w: transactionId and timestamp are required", ErrMalformedProof)
	}
	return &p, nil
}

// VerifyResubmission checks a payment proof header: it must be fresh (no older than the cache
// window, no more than MaxClockSkew in the future), reference the transaction it claims, and
// verify as confirmed.
func (f *Facilitator) VerifyResubmission(ctx context.Context, header string) (*domain.Verification, error) {
	p, err := ParseProof(header)
	if err != nil {
		return nil, err
	}
	now := f.nowF()
	ts := time.UnixMilli(p.Timestamp)
	if now.Sub(ts) > f.cfg.CacheTTL || ts.Sub(now) > MaxClockSkew {
		return nil, ErrStaleProof
	}
	if p.VerificationURL != "" && !strings.HasSuffix(p.VerificationURL, "/"+url.PathEscape(p.TransactionID)) {
		return nil, fmt.Errorf("%w: verificationUrl does not reference transaction %s", ErrMalformedProof, p.TransactionID)
	}
	v, err := f.VerifyPayment(ctx, p.TransactionID)
	if err != nil {
		return nil, err
	}
	if v.Status != domain.StatusConfirmed {
		return nil, ErrNotConfirmed
	}
	return v, nil
}

// Redeem spends transactionID. A confirmed transaction opens the paywall once; later
// resubmissions within the redemption window fail with ErrAlreadyRedeemed.
func (f *Facilitator) Redeem(ctx context.Context, transactionID string) error {
	ok, err := f.cache.Claim(ctx, transactionID, f.cfg.RedemptionTTL)
	if err != nil {
		return fmt.Errorf("redeem %s: %w", transactionID, err)
	}
	if !ok {
		return ErrAlreadyRedeemed
	}
	return nil
}
