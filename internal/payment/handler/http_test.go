package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"x402-delegation/backend/internal/payment/domain"
	"x402-delegation/backend/internal/payment/scheme"
	"x402-delegation/backend/internal/payment/service"
	"x402-delegation/backend/internal/platform/errcode"
	"x402-delegation/backend/internal/platform/httpx"
)

type fakeFacilitator struct {
	result       domain.Result
	session      *domain.Session
	cancelErr    error
	verification *domain.Verification
	verifyErr    error
	gotRequest   domain.Request
	quoted       []domain.Price
	redeemed     map[string]bool
}

func (f *fakeFacilitator) Schemes() []scheme.Scheme {
	return []scheme.Scheme{{Name: "solana-usdc", Network: scheme.NetworkSolana, Currency: "USDC", MinAmount: 0.01}}
}

func (f *fakeFacilitator) ProcessPayment(_ context.Context, req domain.Request) domain.Result {
	f.gotRequest = req
	return f.result
}

func (f *fakeFacilitator) GetSession(_ context.Context, id string) (*domain.Session, error) {
	if f.session == nil || f.session.ID != id {
		return nil, service.ErrSessionNotFound
	}
	return f.session, nil
}

func (f *fakeFacilitator) Cancel(context.Context, string) error { return f.cancelErr }

func (f *fakeFacilitator) VerifyPayment(context.Context, string) (*domain.Verification, error) {
	return f.verification, f.verifyErr
}

func (f *fakeFacilitator) Challenge(price domain.Price) httpx.Response {
	return httpx.Response{
		Status:  http.StatusPaymentRequired,
		Headers: map[string]string{service.PaymentHeader: `{"amount":1}`},
		Body:    domain.ChallengeBody{Error: "Payment Required", Message: "pay up"},
	}
}

func (f *fakeFacilitator) Quote(_ context.Context, price domain.Price) (httpx.Response, error) {
	f.quoted = append(f.quoted, price)
	return f.Challenge(price), nil
}

func (f *fakeFacilitator) VerifyResubmission(context.Context, string) (*domain.Verification, error) {
	return f.verification, f.verifyErr
}

func (f *fakeFacilitator) Redeem(_ context.Context, tx string) error {
	if f.redeemed[tx] {
		return service.ErrAlreadyRedeemed
	}
	if f.redeemed == nil {
		f.redeemed = make(map[string]bool)
	}
	f.redeemed[tx] = true
	return nil
}

var testPrice = domain.Price{Amount: 1, Currency: "USDC", Recipient: "recipient"}

func newRouter(fac Facilitator, upstream *url.URL) http.Handler {
	r := chi.NewRouter()
	NewServer(fac, testPrice, upstream).Routes(r)
	return r
}

func do(h http.Handler, method, target, body string, header http.Header) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestProcessPayment_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		result domain.Result
		want   int
	}{
		{"success", domain.Result{Success: true, SessionID: "p1", TransactionID: "tx"}, http.StatusOK},
		{"unsupported scheme", domain.Result{Code: errcode.PaymentSchemeUnsupported}, http.StatusBadRequest},
		{"amount", domain.Result{Code: errcode.AmountOutOfRange}, http.StatusBadRequest},
		{"dispatch", domain.Result{Code: errcode.TransactionFailed}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fac := &fakeFacilitator{result: tt.result}
			rec := do(newRouter(fac, nil), http.MethodPost, "/v1/payments", `{"scheme":"solana-usdc","amount":2,"currency":"USDC"}`, nil)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if fac.gotRequest.Scheme != "solana-usdc" || fac.gotRequest.Amount != 2 {
				t.Errorf("request = %+v", fac.gotRequest)
			}
		})
	}
}

func TestProcessPayment_BadBody(t *testing.T) {
	rec := do(newRouter(&fakeFacilitator{}, nil), http.MethodPost, "/v1/payments", `{`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSessionRoutes(t *testing.T) {
	fac := &fakeFacilitator{session: &domain.Session{ID: "p1", Status: domain.StatusConfirmed}}
	h := newRouter(fac, nil)

	if rec := do(h, http.MethodGet, "/v1/payments/sessions/p1", "", nil); rec.Code != http.StatusOK {
		t.Errorf("get status = %d, want 200", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/v1/payments/sessions/missing", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing status = %d, want 404", rec.Code)
	}
	if rec := do(h, http.MethodDelete, "/v1/payments/sessions/p1", "", nil); rec.Code != http.StatusNoContent {
		t.Errorf("cancel status = %d, want 204", rec.Code)
	}
	fac.cancelErr = service.ErrNotCancellable
	if rec := do(h, http.MethodDelete, "/v1/payments/sessions/p1", "", nil); rec.Code != http.StatusConflict {
		t.Errorf("cancel terminal status = %d, want 409", rec.Code)
	}
}

func TestVerifyRoute(t *testing.T) {
	fac := &fakeFacilitator{verification: &domain.Verification{TransactionID: "tx", Status: domain.StatusConfirmed, Amount: 1}}
	h := newRouter(fac, nil)
	rec := do(h, http.MethodGet, "/v1/payments/verify/tx", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var v domain.Verification
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil || v.TransactionID != "tx" {
		t.Errorf("body = %s, err = %v", rec.Body.String(), err)
	}

	fac.verification, fac.verifyErr = nil, service.ErrVerificationFailed
	if rec := do(h, http.MethodGet, "/v1/payments/verify/tx", "", nil); rec.Code != http.StatusPaymentRequired {
		t.Errorf("failed status = %d, want 402", rec.Code)
	}
}

func TestSchemesAndQuote(t *testing.T) {
	fac := &fakeFacilitator{}
	h := newRouter(fac, nil)
	rec := do(h, http.MethodGet, "/v1/payments/schemes", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "solana-usdc") {
		t.Errorf("schemes = %d %s", rec.Code, rec.Body.String())
	}

	rec = do(h, http.MethodPost, "/v1/payments/quote", `{"amount":0.5}`, nil)
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("quote status = %d, want 402", rec.Code)
	}
	if rec.Header().Get(service.PaymentHeader) == "" {
		t.Error("quote missing payment header")
	}
	if len(fac.quoted) != 1 || fac.quoted[0].Amount != 0.5 || fac.quoted[0].Recipient != "recipient" {
		t.Errorf("quoted = %+v", fac.quoted)
	}
}

func TestPaidProxy(t *testing.T) {
	var gotPath, gotProof string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotProof = r.Header.Get(service.ProofHeader)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()
	u, _ := url.Parse(upstream.URL + "/api")

	fac := &fakeFacilitator{}
	h := newRouter(fac, u)

	rec := do(h, http.MethodGet, "/v1/paid/report", "", nil)
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("no proof status = %d, want 402", rec.Code)
	}
	if gotPath != "" {
		t.Fatal("upstream reached without payment")
	}

	proof := http.Header{service.ProofHeader: {`{"transactionId":"tx"}`}}
	fac.verification = &domain.Verification{TransactionID: "tx", Status: domain.StatusConfirmed, Amount: 1, Currency: "USDC", Recipient: "recipient"}
	rec = do(h, http.MethodGet, "/v1/paid/report", "", proof)
	if rec.Code != http.StatusOK {
		t.Fatalf("paid status = %d, want 200", rec.Code)
	}
	if gotPath != "/api/report" {
		t.Errorf("upstream path = %q, want /api/report", gotPath)
	}
	if gotProof != "" {
		t.Error("proof header forwarded upstream")
	}

	gotPath = ""
	rec = do(h, http.MethodGet, "/v1/paid/report", "", proof)
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("replayed proof status = %d, want 402", rec.Code)
	}
	if gotPath != "" {
		t.Error("upstream reached with a redeemed transaction")
	}
}

func TestPaywall_RejectsMismatchedPayment(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	proof := http.Header{service.ProofHeader: {`{"transactionId":"tx"}`}}
	tests := []struct {
		name string
		v    *domain.Verification
		err  error
	}{
		{"underpaid", &domain.Verification{Status: domain.StatusConfirmed, Amount: 0.5, Currency: "USDC", Recipient: "recipient"}, nil},
		{"currency", &domain.Verification{Status: domain.StatusConfirmed, Amount: 1, Currency: "SOL", Recipient: "recipient"}, nil},
		{"other recipient", &domain.Verification{Status: domain.StatusConfirmed, Amount: 1, Currency: "USDC", Recipient: "someone-else"}, nil},
		{"unknown recipient", &domain.Verification{Status: domain.StatusConfirmed, Amount: 1, Currency: "USDC"}, nil},
		{"stale", nil, service.ErrStaleProof},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fac := &fakeFacilitator{verification: tt.v, verifyErr: tt.err}
			rec := do(Paywall(fac, testPrice)(next), http.MethodGet, "/", "", proof)
			if rec.Code != http.StatusPaymentRequired {
				t.Fatalf("status = %d, want 402", rec.Code)
			}
			var body domain.ChallengeBody
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if !strings.HasPrefix(body.Message, "payment verification failed") {
				t.Errorf("message = %q", body.Message)
			}
			if len(fac.redeemed) != 0 {
				t.Errorf("rejected proof redeemed %v", fac.redeemed)
			}
		})
	}
}
