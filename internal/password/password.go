package password

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost is the bcrypt cost used in production. At cost 12 a single
// verification takes roughly 200-250ms on current server hardware.
const DefaultCost = 12

// maxPasswordBytes is the bcrypt input limit; longer inputs are truncated by
// the algorithm, so they are rejected instead.
const maxPasswordBytes = 72

// ErrTooLong is returned by Hash for inputs bcrypt would silently truncate.
var ErrTooLong = errors.New("password exceeds 72 bytes")

// Hasher hashes and verifies passwords.
type Hasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, hash string) bool
	// DummyVerify consumes the same time as a failed Verify against a real
	// hash without referencing any stored credential.
	DummyVerify(plaintext string)
}

// Bcrypt is a Hasher backed by golang.org/x/crypto/bcrypt.
type Bcrypt struct {
	cost  int
	dummy []byte
}

// NewBcrypt creates a Bcrypt hasher with the given cost. A dummy hash is
// computed once so DummyVerify runs at the same cost as real verifications.
func NewBcrypt(cost int) (*Bcrypt, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("warden-dummy-password"), cost)
	if err != nil {
		return nil, fmt.Errorf("generating dummy hash: %w", err)
	}
	return &Bcrypt{cost: cost, dummy: dummy}, nil
}

// Hash returns a salted bcrypt hash. Each call draws a fresh salt.
func (b *Bcrypt) Hash(plaintext string) (string, error) {
	if len(plaintext) > maxPasswordBytes {
		return "", ErrTooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), b.cost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

// Verify reports whether plaintext matches hash. The key comparison is
// constant time; malformed hashes never match.
func (b *Bcrypt) Verify(plaintext, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// DummyVerify runs a full verification against the precomputed dummy hash.
func (b *Bcrypt) DummyVerify(plaintext string) {
	_ = bcrypt.CompareHashAndPassword(b.dummy, []byte(plaintext))
}

// Cost returns the configured bcrypt cost.
func (b *Bcrypt) Cost() int {
	return b.cost
}
