package domain

import "time"

// Retention is how long a usage record is kept after its own used_at.
const Retention = time.Hour

// Result is the outcome of one capability invocation.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultDenied  Result = "denied"
)

// Record is one append-only usage log entry.
type Record struct {
	SessionID       string         `json:"session_id"`
	Capability      string         `json:"capability"`
	UsedAt          time.Time      `json:"used_at"`
	Parameters      map[string]any `json:"parameters,omitempty"`
	Result          Result         `json:"result"`
	ExecutionTimeMs int64          `json:"execution_time_ms"`
}
