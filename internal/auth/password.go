package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// PasswordManager hashes and verifies user passwords with bcrypt.
type PasswordManager struct {
	cost      int
	minLength int
}

// NewPasswordManager creates a password manager with the given bcrypt cost.
func NewPasswordManager(cost, minLength int) *PasswordManager {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	if minLength <= 0 {
		minLength = 8
	}
	return &PasswordManager{cost: cost, minLength: minLength}
}

// HashPassword hashes a password after validating its length. bcrypt truncates
// input at 72 bytes, so longer passwords are rejected rather than silently cut.
func (pm *PasswordManager) HashPassword(password string) (string, error) {
	if len(password) < pm.minLength {
		return "", fmt.Errorf("password must be at least %d characters", pm.minLength)
	}
	if len(password) > 72 {
		return "", fmt.Errorf("password must be at most 72 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), pm.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword checks a password against its stored hash.
func (pm *PasswordManager) VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// GenerateAccessToken returns a new opaque bearer token. 32 random bytes,
// URL-safe base64 so it can travel in headers and query strings unescaped.
func GenerateAccessToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate access token: %w", err)
	}
	return base64.URLEncoding.EncodeToString(buf), nil
}

// HashAccessToken returns the SHA-256 hex digest stored in place of the raw
// token. A database dump therefore never reveals usable bearer tokens.
func HashAccessToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
