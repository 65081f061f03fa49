package domain

import "time"

// Policy is a Rego module contributing rules to the constraint policy.
type Policy struct {
	ID        string
	Rules     string
	Enabled   bool
	CreatedAt time.Time
}
