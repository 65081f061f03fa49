package scheme

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"x402-delegation/backend/internal/payment/domain"
)

// DispatchTimeout bounds one call to the settlement gateway.
const DispatchTimeout = 10 * time.Second

// ErrGatewayNotConfigured is returned by an HTTPProcessor without a base URL.
var ErrGatewayNotConfigured = errors.New("settlement gateway not configured")

// HTTPProcessor settles payments through a JSON settlement gateway:
// POST {base}/v1/transactions submits, GET {base}/v1/transactions/{id} verifies.
type HTTPProcessor struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewHTTPProcessor returns a processor for the gateway at baseURL.
func NewHTTPProcessor(baseURL string) *HTTPProcessor {
	return &HTTPProcessor{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: DispatchTimeout},
	}
}

// Submit posts req to the gateway and returns the transaction id it assigned.
func (p *HTTPProcessor) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	var out SubmitResult
	if err := p.do(ctx, http.MethodPost, "/v1/transactions", raw, &out); err != nil {
		return nil, err
	}
	if out.TransactionID == "" {
		return nil, errors.New("settlement: gateway returned no transaction id")
	}
	return &out, nil
}

// Verify fetches the settlement state of transactionID.
func (p *HTTPProcessor) Verify(ctx context.Context, transactionID string) (*domain.Verification, error) {
	var out domain.Verification
	if err := p.do(ctx, http.MethodGet, "/v1/transactions/"+url.PathEscape(transactionID), nil, &out); err != nil {
		return nil, err
	}
	if out.TransactionID == "" {
		out.TransactionID = transactionID
	}
	return &out, nil
}

func (p *HTTPProcessor) do(ctx context.Context, method, path string, body []byte, out any) error {
	if p.BaseURL == "" {
		return ErrGatewayNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, DispatchTimeout)
	defer cancel()
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.BaseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("settlement: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("settlement: request failed status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
