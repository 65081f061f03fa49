// Package handler exposes the payment facilitator over HTTP and provides the paywall middleware.
package handler

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"

	"x402-delegation/backend/internal/payment/domain"
	"x402-delegation/backend/internal/payment/scheme"
	"x402-delegation/backend/internal/payment/service"
	"x402-delegation/backend/internal/platform/errcode"
	"x402-delegation/backend/internal/platform/httpx"
)

// PaidPrefix is the route prefix of payment-gated proxied resources.
const PaidPrefix = "/v1/paid"

// Facilitator is the payment surface the handlers need.
type Facilitator interface {
	Schemes() []scheme.Scheme
	ProcessPayment(ctx context.Context, req domain.Request) domain.Result
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	Cancel(ctx context.Context, id string) error
	VerifyPayment(ctx context.Context, transactionID string) (*domain.Verification, error)
	Challenge(price domain.Price) httpx.Response
	Quote(ctx context.Context, price domain.Price) (httpx.Response, error)
	VerifyResubmission(ctx context.Context, header string) (*domain.Verification, error)
	Redeem(ctx context.Context, transactionID string) error
}

// Server serves the payment routes. The paid proxy is mounted only when upstream is set and price is positive.
type Server struct {
	fac      Facilitator
	price    domain.Price
	upstream *url.URL
}

// NewServer returns a payment HTTP server.
func NewServer(fac Facilitator, price domain.Price, upstream *url.URL) *Server {
	return &Server{fac: fac, price: price, upstream: upstream}
}

// Routes mounts the payment routes on r.
func (s *Server) Routes(r chi.Router) {
	r.Get("/v1/payments/schemes", s.listSchemes)
	r.Post("/v1/payments", s.processPayment)
	r.Get("/v1/payments/sessions/{id}", s.getSession)
	r.Delete("/v1/payments/sessions/{id}", s.cancelSession)
	r.Get("/v1/payments/verify/{tx}", s.verify)
	r.Post("/v1/payments/quote", s.quote)
	if s.upstream != nil && s.price.Amount > 0 {
		proxy := &httputil.ReverseProxy{Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(s.upstream)
			pr.SetXForwarded()
			rest := strings.TrimPrefix(pr.In.URL.Path, PaidPrefix)
			pr.Out.URL.Path = path.Join("/", strings.TrimSuffix(s.upstream.Path, "/"), rest)
			pr.Out.URL.RawPath = ""
			pr.Out.Header.Del(service.ProofHeader)
		}}
		r.With(Paywall(s.fac, s.price)).Handle(PaidPrefix+"/*", proxy)
	}
}

type schemeView struct {
	Name      string   `json:"name"`
	Network   string   `json:"network"`
	Currency  string   `json:"currency"`
	MinAmount float64  `json:"minAmount"`
	MaxAmount *float64 `json:"maxAmount,omitempty"`
}

func (s *Server) listSchemes(w http.ResponseWriter, r *http.Request) {
	var out []schemeView
	for _, sc := range s.fac.Schemes() {
		out = append(out, schemeView{Name: sc.Name, Network: sc.Network, Currency: sc.Currency, MinAmount: sc.MinAmount, MaxAmount: sc.MaxAmount})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"schemes": out})
}

func (s *Server) processPayment(w http.ResponseWriter, r *http.Request) {
	var req domain.Request
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, string(errcode.InvalidRequest), "invalid payment request: "+err.Error(), nil)
		return
	}
	res := s.fac.ProcessPayment(r.Context(), req)
	status := http.StatusOK
	if !res.Success {
		status = errcode.HTTPStatus(res.Code)
	}
	httpx.WriteJSON(w, status, res)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.fac.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, sess)
}

func (s *Server) cancelSession(w http.ResponseWriter, r *http.Request) {
	if err := s.fac.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) verify(w http.ResponseWriter, r *http.Request) {
	v, err := s.fac.VerifyPayment(r.Context(), chi.URLParam(r, "tx"))
	if err != nil {
		writeErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, v)
}

type quoteRequest struct {
	Amount    float64  `json:"amount"`
	Currency  string   `json:"currency"`
	Recipient string   `json:"recipient"`
	Schemes   []string `json:"paymentSchemes"`
	Memo      string   `json:"memo"`
}

// quote opens a pending session and returns its 402 challenge for a caller-supplied price,
// defaulting unset fields to the paywall price.
func (s *Server) quote(w http.ResponseWriter, r *http.Request) {
	var q quoteRequest
	if err := httpx.ReadJSON(r, &q); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, string(errcode.InvalidRequest), "invalid quote request: "+err.Error(), nil)
		return
	}
	price := s.price
	if q.Amount > 0 {
		price.Amount = q.Amount
	}
	if q.Currency != "" {
		price.Currency = q.Currency
	}
	if q.Recipient != "" {
		price.Recipient = q.Recipient
	}
	if len(q.Schemes) > 0 {
		price.Schemes = q.Schemes
	}
	if q.Memo != "" {
		price.Memo = q.Memo
	}
	if price.Amount <= 0 || price.Recipient == "" {
		httpx.WriteError(w, http.StatusBadRequest, string(errcode.InvalidRequest), "amount and recipient are required", nil)
		return
	}
	resp, err := s.fac.Quote(r.Context(), price)
	if err != nil {
		writeErr(w, err)
		return
	}
	httpx.Write(w, resp)
}

func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		httpx.WriteError(w, http.StatusNotFound, "PAYMENT_SESSION_NOT_FOUND", err.Error(), nil)
	case errors.Is(err, service.ErrNotCancellable):
		httpx.WriteError(w, http.StatusConflict, string(errcode.InvalidRequest), err.Error(), nil)
	case errors.Is(err, service.ErrVerificationFailed), errors.Is(err, service.ErrMalformedProof):
		httpx.WriteError(w, errcode.HTTPStatus(errcode.VerificationFailed), string(errcode.VerificationFailed), err.Error(), nil)
	default:
		log.Printf("payment: %v", err)
		httpx.WriteError(w, http.StatusInternalServerError, string(errcode.Internal), "internal error", nil)
	}
}

// amountEpsilon absorbs float rounding when comparing paid and required amounts.
const amountEpsilon = 1e-9

// Paywall gates next on a confirmed payment proof covering price and paid to its recipient. Each
// transaction is redeemed once. Requests without a valid proof receive the 402 challenge; a
// rejected proof is described in the challenge body's message.
func Paywall(fac Facilitator, price domain.Price) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get(service.ProofHeader)
			if header == "" {
				httpx.Write(w, fac.Challenge(price))
				return
			}
			v, err := fac.VerifyResubmission(r.Context(), header)
			if err == nil && price.Currency != "" && !strings.EqualFold(v.Currency, price.Currency) {
				err = errors.New("payment currency does not match price")
			}
			if err == nil && v.Amount+amountEpsilon < price.Amount {
				err = errors.New("payment amount is below price")
			}
			if err == nil && price.Recipient != "" && v.Recipient != price.Recipient {
				err = errors.New("payment recipient does not match price")
			}
			if err == nil {
				err = fac.Redeem(r.Context(), v.TransactionID)
				if err != nil && !errors.Is(err, service.ErrAlreadyRedeemed) {
					log.Printf("payment: %v", err)
					httpx.WriteError(w, http.StatusInternalServerError, string(errcode.Internal), "internal error", nil)
					return
				}
			}
			if err != nil {
				resp := fac.Challenge(price)
				if body, ok := resp.Body.(domain.ChallengeBody); ok {
					body.Message = "payment verification failed: " + err.Error()
					resp.Body = body
				}
				httpx.Write(w, resp)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

