// Package auth validates the admin tokens that guard the credit
// administration endpoints. User authentication itself lives upstream; this
// service only trusts the identity headers that layer injects.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Admin roles. Admin implies viewer access.
const (
	RoleAdmin  = "admin"
	RoleViewer = "viewer"
)

// ErrInvalidToken is returned when a token fails validation.
var ErrInvalidToken = errors.New("invalid or expired token")

// AdminClaims are the claims embedded in an admin JWT.
type AdminClaims struct {
	AdminID string   `json:"admin_id"`
	Roles   []string `json:"roles"`
	jwt.RegisteredClaims
}

// HasRole reports whether the claims carry the required role. The admin
// role satisfies any requirement.
func (c *AdminClaims) HasRole(required string) bool {
	for _, role := range c.Roles {
		if role == required || role == RoleAdmin {
			return true
		}
	}
	return false
}

// GenerateAdminJWT creates a signed admin token. Used by the admin login
// flow and by tests.
func GenerateAdminJWT(adminID string, roles []string, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &AdminClaims{
		AdminID: adminID,
		Roles:   roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   adminID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign admin token: %w", err)
	}
	return signed, nil
}

// ValidateAdminJWT verifies the signature and expiry of an admin token and
// returns its claims.
func ValidateAdminJWT(tokenString string, secret []byte) (*AdminClaims, error) {
	claims := &AdminClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
