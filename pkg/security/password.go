package security

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrHashingFailed = errors.New("password hashing failed")
	ErrTooShort      = errors.New("secret too short")
	ErrMismatch      = errors.New("secret does not match")
)

// MinPasswordLen is the minimum length accepted for account passwords.
const MinPasswordLen = 8

// PasswordHasher hashes and verifies user secrets (passwords and PINs).
type PasswordHasher interface {
	Hash(secret string) (string, error)
	Compare(hashed, secret string) error
}

type bcryptHasher struct {
	cost   int
	minLen int
}

// NewBcryptHasher creates a bcrypt hasher that rejects secrets shorter than
// minLen. An out-of-range cost falls back to bcrypt.DefaultCost.
func NewBcryptHasher(cost, minLen int) PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &bcryptHasher{cost: cost, minLen: minLen}
}

func (b *bcryptHasher) Hash(secret string) (string, error) {
	if len(secret) < b.minLen {
		return "", fmt.Errorf("%w: need at least %d characters", ErrTooShort, b.minLen)
	}

	bytes, err := bcrypt.GenerateFromPassword([]byte(secret), b.cost)
	if err != nil {
		return "", ErrHashingFailed
	}
	return string(bytes), nil
}

func (b *bcryptHasher) Compare(hashed, secret string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hashed), []byte(secret))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrMismatch
	}
	return err
}
