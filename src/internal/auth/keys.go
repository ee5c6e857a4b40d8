// FILE: chatwisp/src/internal/auth/keys.go
package auth

import (
	"crypto/subtle"
	"strings"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/bcrypt"
)

// Burned on misses so a miss costs about as much as a bcrypt check
var dummyHash = []byte("$2a$10$7EqJtq98hPqEX7fNZaFWoOHi5BWhHz6XV1CAbDTRyLrKQP.7kPSZ6")

// KeyChecker matches presented keys against configured plaintext keys or
// bcrypt hashes. Plaintext keys are held only as blake3 fingerprints and
// compared in constant time. A checker with no keys accepts everything.
type KeyChecker struct {
	fingerprints [][32]byte
	hashes       [][]byte
}

// Creates a checker from a comma-separated list; entries starting with "$2" are bcrypt hashes
func NewKeyChecker(keys string) *KeyChecker {
	k := &KeyChecker{}
	for _, key := range strings.Split(keys, ",") {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if isBcryptHash(key) {
			k.hashes = append(k.hashes, []byte(key))
			continue
		}
		k.fingerprints = append(k.fingerprints, blake3.Sum256([]byte(key)))
	}
	return k
}

// Reports whether any key is configured
func (k *KeyChecker) Enabled() bool {
	return k != nil && (len(k.fingerprints) > 0 || len(k.hashes) > 0)
}

// Reports whether key matches a configured key. Always true when disabled.
func (k *KeyChecker) Verify(key string) bool {
	if !k.Enabled() {
		return true
	}
	if key == "" {
		return false
	}

	sum := blake3.Sum256([]byte(key))
	matched := 0
	for i := range k.fingerprints {
		matched |= subtle.ConstantTimeCompare(sum[:], k.fingerprints[i][:])
	}
	if matched == 1 {
		return true
	}

	if len(k.hashes) == 0 {
		return false
	}
	for _, h := range k.hashes {
		if bcrypt.CompareHashAndPassword(h, []byte(key)) == nil {
			return true
		}
	}
	return false
}

// Reports whether any of the presented keys matches
func (k *KeyChecker) VerifyAny(keys ...string) bool {
	if !k.Enabled() {
		return true
	}
	presented := false
	for _, key := range keys {
		if key == "" {
			continue
		}
		presented = true
		if k.Verify(key) {
			return true
		}
	}
	if !presented && len(k.hashes) > 0 {
		bcrypt.CompareHashAndPassword(dummyHash, []byte("x"))
	}
	return false
}

func (k *KeyChecker) stats() map[string]any {
	return map[string]any{
		"enabled":     k.Enabled(),
		"plain_keys":  len(k.fingerprints),
		"hashed_keys": len(k.hashes),
	}
}

func isBcryptHash(s string) bool {
	if !strings.HasPrefix(s, "$2") {
		return false
	}
	_, err := bcrypt.Cost([]byte(s))
	return err == nil
}
