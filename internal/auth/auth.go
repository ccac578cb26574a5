// Package auth verifies the bearer JWTs the gateway accepts from
// authenticated clients. Grounded on
// brokle-ai-brokle/internal/core/services/auth/jwt_service.go, narrowed to
// the HS256 signing path that gateway.go actually needs — RS256 key-file
// loading is unused at this scope (see DESIGN.md).
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the subset of JWT claims the gateway needs off an access token.
type Claims struct {
	UserID    string
	Issuer    string
	ExpiresAt int64
}

// Verifier validates HS256-signed access tokens against a shared secret.
type Verifier struct {
	secret []byte
	issuer string
}

// NewVerifier builds a Verifier over the configured signing secret and
// expected issuer.
func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer}
}

// Verify parses and validates tokenString, returning its claims.
func (v *Verifier) Verify(tokenString string) (Claims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return Claims{}, fmt.Errorf("auth: parse token: %w", err)
	}
	if !token.Valid {
		return Claims{}, fmt.Errorf("auth: token invalid")
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, fmt.Errorf("auth: invalid claims")
	}

	claims := Claims{
		UserID: getString(mapClaims, "user_id"),
		Issuer: getString(mapClaims, "iss"),
	}
	if exp, ok := mapClaims["exp"].(float64); ok {
		claims.ExpiresAt = int64(exp)
	}

	if v.issuer != "" && claims.Issuer != v.issuer {
		return Claims{}, fmt.Errorf("auth: unexpected issuer %q", claims.Issuer)
	}
	if claims.ExpiresAt != 0 && time.Unix(claims.ExpiresAt, 0).Before(time.Now()) {
		return Claims{}, fmt.Errorf("auth: token expired")
	}
	if claims.UserID == "" {
		return Claims{}, fmt.Errorf("auth: token missing user_id")
	}
	return claims, nil
}

func getString(m jwt.MapClaims, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
