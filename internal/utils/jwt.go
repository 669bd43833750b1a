package utils

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token roles.
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// SessionClaims is the payload of the session and admin cookies.
// AccessToken and IDToken hold Seal output, never raw Shopify tokens.
type SessionClaims struct {
	CustomerID  string `json:"cid,omitempty"`
	Email       string `json:"email,omitempty"`
	FirstName   string `json:"fn,omitempty"`
	LastName    string `json:"ln,omitempty"`
	AccessToken string `json:"at,omitempty"`
	IDToken     string `json:"it,omitempty"`
	Role        string `json:"role"`
	jwt.RegisteredClaims
}

// GenerateToken signs claims with HS256 and the given lifetime.
func GenerateToken(secret string, claims SessionClaims, ttl time.Duration) (string, error) {
	now := time.Now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	if claims.Subject == "" {
		claims.Subject = claims.CustomerID
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims)
	return token.SignedString([]byte(secret))
}

// ParseToken validates the token and returns its claims.
func ParseToken(secret, tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*SessionClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, jwt.ErrTokenInvalidClaims
}
