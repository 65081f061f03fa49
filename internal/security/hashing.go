package security

import (
	"golang.org/x/crypto/bcrypt"
)

// Hasher hashes and verifies operator keys using bcrypt. Callers must not log or
// persist plaintext keys.
type Hasher struct {
	Cost int
}

// NewHasher returns a Hasher with the given bcrypt cost, clamped to 4–31.
func NewHasher(cost int) *Hasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &Hasher{Cost: cost}
}

// Hash produces a bcrypt hash of key suitable for OPERATOR_KEY_HASH.
func (h *Hasher) Hash(key []byte) (string, error) {
	b, err := bcrypt.GenerateFromPassword(key, h.Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Compare verifies key against the stored hash in constant time. Returns nil on match,
// bcrypt.ErrMismatchedHashAndPassword on mismatch, or a parse error for a bad hash.
func (h *Hasher) Compare(hash string, key []byte) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), key)
}
