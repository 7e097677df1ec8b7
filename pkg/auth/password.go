package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is the work factor used when none is configured
const DefaultBcryptCost = 10

// MinPasswordLength is the shortest password accepted at registration
const MinPasswordLength = 6

// MaxPasswordLength is the longest password bcrypt accepts, in bytes
const MaxPasswordLength = 72

// HashPassword returns a salted bcrypt hash of password
func HashPassword(password string, cost int) (string, error) {
	if cost == 0 {
		cost = DefaultBcryptCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword compares password against a stored bcrypt hash in constant time
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// newDummyHash builds the hash compared against when no principal matches a
// login. It must use the same cost as real hashes so unknown emails take as
// long as wrong passwords.
func newDummyHash(cost int) []byte {
	hash, err := bcrypt.GenerateFromPassword([]byte("campus-dummy-password"), cost)
	if err != nil {
		hash, _ = bcrypt.GenerateFromPassword([]byte("campus-dummy-password"), DefaultBcryptCost)
	}
	return hash
}

// burnPasswordCheck performs a throwaway comparison against hash
func burnPasswordCheck(hash []byte, password string) {
	_ = bcrypt.CompareHashAndPassword(hash, []byte(password))
}
