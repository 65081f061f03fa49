package domain

import (
	"encoding/json"
	"time"
)

// Event types emitted by the delegation and payment pipelines.
const (
	TypeTokenValidated   = "token_validated"
	TypeTokenRejected    = "token_rejected"
	TypeSessionCreated   = "session_created"
	TypeSessionRevoked   = "session_revoked"
	TypeUsageRecorded    = "usage_recorded"
	TypePaymentConfirmed = "payment_confirmed"
	TypePaymentFailed    = "payment_failed"
	TypeHTTPRequest      = "http_request"
)

// Event is one telemetry record. It is the Kafka message value and the row persisted by the worker.
type Event struct {
	ID        int64           `json:"-"`
	EventType string          `json:"eventType"`
	Source    string          `json:"source"`
	SessionID string          `json:"sessionId,omitempty"`
	Issuer    string          `json:"issuer,omitempty"`
	Delegate  string          `json:"delegate,omitempty"`
	Code      string          `json:"code,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}
