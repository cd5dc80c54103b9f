package auth

import (
	"crypto/subtle"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword hashes a plaintext password with bcrypt, the
// memory-hard KDF stored credentials require.
func HashPassword(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword checks a plaintext password against a stored bcrypt
// hash. bcrypt's own comparison is already constant-time with respect
// to the password; this wrapper exists so callers have one place to
// reason about password verification.
func VerifyPassword(hash, plaintext string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// ConstantTimeEqual compares two secrets (e.g. X-Admin-Secret against
// the configured value) without leaking timing information.
func ConstantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		// Still do a constant-time compare against a dummy of equal
		// length so callers can't distinguish length mismatches by
		// timing either.
		subtle.ConstantTimeCompare([]byte(a), []byte(a))
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
