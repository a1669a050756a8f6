package password

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

const (
	minCost      = bcrypt.MinCost
	defaultCost  = 12
	minPassBytes = 10
)

// Hasher hashes and verifies passwords with bcrypt.
type Hasher struct {
	cost int
}

// NewHasher returns a Hasher with the given cost. Cost 0 selects the
// package default.
func NewHasher(cost int) (*Hasher, error) {
	if cost == 0 {
		cost = defaultCost
	}
	if cost < minCost || cost > bcrypt.MaxCost {
		return nil, errors.New("bcrypt cost out of range")
	}
	return &Hasher{cost: cost}, nil
}

// Hash returns the bcrypt hash of password.
func (h *Hasher) Hash(password string) (string, error) {
	// Password processing uses raw string bytes exactly as provided (no Unicode normalization).
	if len(password) < minPassBytes {
		return "", errors.New("password must be at least 10 bytes")
	}

	out, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Compare reports whether password matches the stored hash. A mismatch
// is (false, nil); only malformed hashes and runtime failures error.
func Compare(password, hash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, err
}

// NeedsRehash reports whether hash was produced with a weaker cost than
// the Hasher is configured for.
func (h *Hasher) NeedsRehash(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return true
	}
	return cost < h.cost
}
