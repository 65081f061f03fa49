// Package scheme is the payment scheme strategy table: each scheme names its settlement rail,
// its amount bounds and the processor that submits and verifies transactions.
package scheme

import (
	"context"
	"errors"
	"fmt"

	"x402-delegation/backend/internal/payment/domain"
)

var (
	// ErrUnsupported is returned for a scheme name not in the table.
	ErrUnsupported = errors.New("payment scheme not supported")
	// ErrAmountOutOfRange is returned for an amount outside the scheme bounds.
	ErrAmountOutOfRange = errors.New("amount out of range")
)

// NetworkSolana marks schemes whose recipients are base58 Solana addresses.
const NetworkSolana = "solana"

// SubmitRequest is what a processor receives to settle a payment.
type SubmitRequest struct {
	SessionID string  `json:"sessionId"`
	Scheme    string  `json:"scheme"`
	Network   string  `json:"network"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	Recipient string  `json:"recipient"`
	Payer     string  `json:"payer,omitempty"`
	Memo      string  `json:"memo,omitempty"`
}

// SubmitResult is a processor's answer to a successful submission.
// Verification may be nil when the processor does not report settlement details.
type SubmitResult struct {
	TransactionID string               `json:"transactionId"`
	Verification  *domain.Verification `json:"verification,omitempty"`
}

// Processor submits and verifies transactions for one or more schemes.
type Processor interface {
	Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error)
	Verify(ctx context.Context, transactionID string) (*domain.Verification, error)
}

// Scheme is one table entry.
type Scheme struct {
	Name      string
	Network   string
	Currency  string
	MinAmount float64
	// MaxAmount is nil when the scheme has no upper bound.
	MaxAmount *float64
	Processor Processor
}

// CheckAmount returns ErrAmountOutOfRange when amount is below MinAmount or above MaxAmount.
func (s Scheme) CheckAmount(amount float64) error {
	if amount < s.MinAmount {
		return fmt.Errorf("%w: %v is below the %s minimum of %v", ErrAmountOutOfRange, amount, s.Name, s.MinAmount)
	}
	if s.MaxAmount != nil && amount > *s.MaxAmount {
		return fmt.Errorf("%w: %v is above the %s maximum of %v", ErrAmountOutOfRange, amount, s.Name, *s.MaxAmount)
	}
	return nil
}

// Table maps scheme names to schemes and remembers registration order.
type Table struct {
	byName map[string]Scheme
	order  []string
}

// NewTable returns a table holding schemes. A later scheme with the same name replaces an earlier one.
func NewTable(schemes ...Scheme) *Table {
	t := &Table{byName: make(map[string]Scheme, len(schemes))}
	for _, s := range schemes {
		t.Add(s)
	}
	return t
}

// Add registers s.
func (t *Table) Add(s Scheme) {
	if _, ok := t.byName[s.Name]; !ok {
		t.order = append(t.order, s.Name)
	}
	t.byName[s.Name] = s
}

// Get returns the scheme named name.
func (t *Table) Get(name string) (Scheme, bool) {
	s, ok := t.byName[name]
	return s, ok
}

// Names returns scheme names in registration order.
func (t *Table) Names() []string {
	return append([]string(nil), t.order...)
}

// All returns schemes in registration order.
func (t *Table) All() []Scheme {
	out := make([]Scheme, 0, len(t.order))
	for _, n := range t.order {
		out = append(out, t.byName[n])
	}
	return out
}

// Defaults returns the built-in solana-usdc and solana-sol schemes, both settled by p.
func Defaults(p Processor) *Table {
	maxUSDC := 10000.0
	return NewTable(
		Scheme{Name: "solana-usdc", Network: NetworkSolana, Currency: "USDC", MinAmount: 0.01, MaxAmount: &maxUSDC, Processor: p},
		Scheme{Name: "solana-sol", Network: NetworkSolana, Currency: "SOL", MinAmount: 0.000001, Processor: p},
	)
}
