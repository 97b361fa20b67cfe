package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Admin session errors.
var (
	ErrAdminTokenExpired = AuthError{Code: "ADMIN_TOKEN_EXPIRED", Message: "admin session expired"}
	ErrAdminTokenInvalid = AuthError{Code: "ADMIN_TOKEN_INVALID", Message: "invalid admin session token"}
)

// AdminClaims identifies an admin dashboard session.
type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// AdminJWTManager issues short-lived JWTs for the admin dashboard after an
// admin-key login. Client-facing endpoints never use JWTs; those tokens stay
// opaque and server-revocable.
type AdminJWTManager struct {
	secret          []byte
	sessionDuration time.Duration
}

// NewAdminJWTManager creates a new admin JWT manager
func NewAdminJWTManager(secret string, sessionDuration time.Duration) *AdminJWTManager {
	if sessionDuration == 0 {
		sessionDuration = time.Hour
	}
	return &AdminJWTManager{
		secret:          []byte(secret),
		sessionDuration: sessionDuration,
	}
}

// GenerateSessionToken generates a signed admin session token
func (m *AdminJWTManager) GenerateSessionToken() (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(m.sessionDuration)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, AdminClaims{
		Role: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "admin",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "license-server",
			Audience:  []string{"license-admin"},
		},
	})

	signedToken, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}

	return signedToken, expiresAt, nil
}

// ValidateSessionToken validates an admin session token and returns the claims
func (m *AdminJWTManager) ValidateSessionToken(tokenString string) (*AdminClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AdminClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrAdminTokenExpired
		}
		return nil, ErrAdminTokenInvalid
	}

	claims, ok := token.Claims.(*AdminClaims)
	if !ok || !token.Valid || claims.Role != "admin" {
		return nil, ErrAdminTokenInvalid
	}

	return claims, nil
}
