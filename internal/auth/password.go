// Package auth covers everything that decides who may see a site or call
// the admin API: password checks, signed session cookies, the failed-login
// limiter, bearer tokens and the login page itself.
package auth

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/sdko-org/site-gateway/internal/validate"
)

// HashPassword returns the SHA-256 hex digest stored in a site record.
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// CheckPassword hashes the submitted password and compares it with the
// stored digest in constant time.
func CheckPassword(password, hash string) bool {
	return validate.TimingSafeEqual(HashPassword(password), hash)
}
