// FILE: chatwisp/src/internal/auth/generator.go
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	MinKeyLength = 16
	MaxKeyLength = 512
)

// Returns length random bytes as unpadded URL-safe base64 and as hex
func GenerateKey(length int) (string, string, error) {
	if length < 1 || length > MaxKeyLength {
		return "", "", fmt.Errorf("key length must be between 1 and %d bytes", MaxKeyLength)
	}

	key := make([]byte, length)
	if _, err := rand.Read(key); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	b64 := base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(key)
	return b64, hex.EncodeToString(key), nil
}

// Returns a bcrypt hash of key suitable for write_key or view_key
func HashKey(key string, cost int) (string, error) {
	if key == "" {
		return "", fmt.Errorf("key cannot be empty")
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash key: %w", err)
	}
	return string(hash), nil
}
