package auth

import (
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lumenkb/voicebridge/domain/entities"
)

const (
	// Session tokens are short-lived; clients re-mint them through the
	// REST surface before opening a socket.
	SessionTokenDuration = 1 * time.Hour

	defaultSecret = "voicebridge-dev-secret"
)

// jwtSecret returns the HMAC signing key. JWT_SECRET must be set in any
// real deployment; the fallback exists so local development works without
// an env file.
func jwtSecret() []byte {
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		return []byte(secret)
	}
	return []byte(defaultSecret)
}

// Claims carries the identity the websocket layer needs to authorize
// tool calls for a session.
type Claims struct {
	UserID     string `json:"user_id"`
	Role       string `json:"role"`
	Privileged bool   `json:"privileged"`
	jwt.RegisteredClaims
}

// GenerateSessionToken mints a signed token for a user opening a voice
// session.
func GenerateSessionToken(userID string, role entities.Role, privileged bool) (string, error) {
	claims := Claims{
		UserID:     userID,
		Role:       string(role),
		Privileged: privileged,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(SessionTokenDuration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   userID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret())
}

// ValidateToken parses and verifies a session token, returning its claims.
func ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return jwtSecret(), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	return claims, nil
}
