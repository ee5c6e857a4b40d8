// FILE: chatwisp/src/internal/auth/token.go
package auth

import (
	"fmt"
	"time"

	"chatwisp/src/internal/config"

	"github.com/golang-jwt/jwt/v5"
)

// TokenVerifier validates HMAC-signed bearer tokens for read access
type TokenVerifier struct {
	parser  *jwt.Parser
	keyFunc jwt.Keyfunc
}

// Returns nil when no signing key is configured
func NewTokenVerifier(cfg config.JWTConfig) *TokenVerifier {
	if cfg.SigningKey == "" {
		return nil
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithLeeway(5 * time.Second),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	key := []byte(cfg.SigningKey)
	return &TokenVerifier{
		parser: jwt.NewParser(opts...),
		keyFunc: func(token *jwt.Token) (any, error) {
			return key, nil
		},
	}
}

// Validates a token and returns its subject
func (v *TokenVerifier) Verify(token string) (string, error) {
	if v == nil {
		return "", fmt.Errorf("bearer tokens not configured")
	}

	claims := jwt.MapClaims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, v.keyFunc)
	if err != nil {
		return "", fmt.Errorf("JWT validation failed: %w", err)
	}
	if !parsed.Valid {
		return "", fmt.Errorf("invalid JWT token")
	}

	subject, _ := claims.GetSubject()
	return subject, nil
}

// Issues a token for subject signed with cfg.SigningKey
func IssueToken(cfg config.JWTConfig, subject string, ttl time.Duration) (string, error) {
	if cfg.SigningKey == "" {
		return "", fmt.Errorf("signing key is required")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if cfg.Issuer != "" {
		claims["iss"] = cfg.Issuer
	}
	if cfg.Audience != "" {
		claims["aud"] = cfg.Audience
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.SigningKey))
}
