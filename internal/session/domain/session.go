package domain

import (
	"time"

	capdomain "x402-delegation/backend/internal/capability/domain"
)

// IdleTTL is how long a session survives without use before cleanup removes it.
const IdleTTL = time.Hour

// Session tracks cumulative use and revocation of one issued token identity.
type Session struct {
	ID         string
	Token      *capdomain.CapabilityToken
	CreatedAt  time.Time
	LastUsed   time.Time
	UsageCount int
	Active     bool // false only after explicit revocation
}

// Clone returns a copy that does not share the mutable counters.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
