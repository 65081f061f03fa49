// Package domain holds the payment facilitator's session, verification and 402 contract types.
package domain

import (
	"time"

	"x402-delegation/backend/internal/platform/errcode"
)

// SessionTTL is how long a payment session stays retrievable after creation.
const SessionTTL = 10 * time.Minute

// Status is the state of a payment session or verification.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusConfirmed  Status = "confirmed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether s is confirmed or failed.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// Request asks the facilitator to settle one payment. SessionID, when set, names the pending
// session opened by a quote that this payment settles.
type Request struct {
	SessionID string  `json:"sessionId,omitempty"`
	Scheme    string  `json:"scheme"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency,omitempty"`
	Recipient string  `json:"recipient"`
	Payer     string  `json:"payer,omitempty"`
	Memo      string  `json:"memo,omitempty"`
}

// Session tracks one payment from creation to a terminal state.
type Session struct {
	ID              string    `json:"id"`
	Request         Request   `json:"request"`
	Status          Status    `json:"status"`
	TransactionID   string    `json:"transactionId,omitempty"`
	VerificationURL string    `json:"verificationUrl,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	ExpiresAt       time.Time `json:"expiresAt"`
	Error           string    `json:"error,omitempty"`
}

// Expired reports whether now is past the session deadline.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Clone returns a copy of s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// Verification is the settlement state of one transaction.
type Verification struct {
	TransactionID string    `json:"transactionId"`
	Status        Status    `json:"status"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency"`
	Recipient     string    `json:"recipient,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	Block         *uint64   `json:"block,omitempty"`
	Confirmations *uint64   `json:"confirmations,omitempty"`
}

// Result is the outcome of processing a payment.
type Result struct {
	Success         bool         `json:"success"`
	Code            errcode.Code `json:"code,omitempty"`
	Errors          []string     `json:"errors,omitempty"`
	SessionID       string       `json:"sessionId,omitempty"`
	TransactionID   string       `json:"transactionId,omitempty"`
	VerificationURL string       `json:"verificationUrl,omitempty"`
}

// Price is what a protected resource costs.
type Price struct {
	Amount    float64
	Currency  string
	Recipient string
	Schemes   []string
	Memo      string
}

// PaymentDetails is the X-PAYMENT header object of a 402 challenge. ExpiresAt is epoch milliseconds.
type PaymentDetails struct {
	SessionID      string   `json:"sessionId,omitempty"`
	Facilitator    string   `json:"facilitator"`
	PaymentSchemes []string `json:"paymentSchemes"`
	Amount         float64  `json:"amount"`
	Currency       string   `json:"currency"`
	Recipient      string   `json:"recipient"`
	Memo           string   `json:"memo,omitempty"`
	ExpiresAt      int64    `json:"expiresAt"`
}

// ChallengeBody is the JSON body of a 402 challenge.
type ChallengeBody struct {
	Error          string         `json:"error"`
	PaymentDetails PaymentDetails `json:"paymentDetails"`
	Message        string         `json:"message"`
}

// Proof is the X-Payment-Verification header a client sends when retrying after payment.
// Timestamp is epoch milliseconds.
type Proof struct {
	VerificationURL string `json:"verificationUrl"`
	TransactionID   string `json:"transactionId"`
	Timestamp       int64  `json:"timestamp"`
	Signature       string `json:"signature,omitempty"`
}
