// FILE: chatwisp/src/internal/auth/authenticator.go
package auth

import (
	"fmt"
	"strings"
	"sync/atomic"

	"chatwisp/src/internal/config"
	"chatwisp/src/internal/core"

	"github.com/lixenwraith/log"
)

// Credentials presented on a write request
type WriteCredentials struct {
	Keys []string
}

// Credentials presented on a read request
type ReadCredentials struct {
	Key           string
	Authorization string
}

// Authenticator gates the write and read paths. Each side is open when
// nothing is configured for it.
type Authenticator struct {
	write  *KeyChecker
	view   *KeyChecker
	tokens *TokenVerifier
	logger *log.Logger

	// Statistics
	writeFailures atomic.Uint64
	readFailures  atomic.Uint64
	tokenReads    atomic.Uint64
}

// Creates an authenticator from the ingest and query settings
func New(ingest config.IngestConfig, query config.QueryConfig, logger *log.Logger) *Authenticator {
	a := &Authenticator{
		write:  NewKeyChecker(ingest.WriteKey),
		view:   NewKeyChecker(query.ViewKey),
		tokens: NewTokenVerifier(query.JWT),
		logger: logger,
	}

	logger.Info("msg", "Authenticator initialized",
		"component", "auth",
		"write_protected", a.write.Enabled(),
		"read_protected", a.ReadProtected(),
		"jwt", a.tokens != nil)
	return a
}

// Returns the write-side key checker, shared with the TCP listener
func (a *Authenticator) WriteKeys() *KeyChecker {
	return a.write
}

// Reports whether reads need a credential
func (a *Authenticator) ReadProtected() bool {
	return a.view.Enabled() || a.tokens != nil
}

// Returns core.ErrUnauthorized unless a presented key matches the write key
func (a *Authenticator) AuthorizeWrite(creds WriteCredentials) error {
	if a.write.VerifyAny(creds.Keys...) {
		return nil
	}
	a.writeFailures.Add(1)
	return fmt.Errorf("%w: missing or invalid write key", core.ErrUnauthorized)
}

// Accepts the view key or a valid bearer token
func (a *Authenticator) AuthorizeRead(creds ReadCredentials) error {
	if !a.ReadProtected() {
		return nil
	}

	if a.view.Enabled() && creds.Key != "" && a.view.Verify(creds.Key) {
		return nil
	}

	if a.tokens != nil {
		if token, ok := strings.CutPrefix(creds.Authorization, "Bearer "); ok {
			subject, err := a.tokens.Verify(strings.TrimSpace(token))
			if err == nil {
				a.tokenReads.Add(1)
				a.logger.Debug("msg", "Read authorized by token",
					"component", "auth",
					"subject", subject)
				return nil
			}
			a.readFailures.Add(1)
			return fmt.Errorf("%w: %v", core.ErrUnauthorized, err)
		}
	}

	a.readFailures.Add(1)
	return fmt.Errorf("%w: missing or invalid view key", core.ErrUnauthorized)
}

func (a *Authenticator) GetStats() map[string]any {
	return map[string]any{
		"write":          a.write.stats(),
		"view":           a.view.stats(),
		"jwt_enabled":    a.tokens != nil,
		"write_failures": a.writeFailures.Load(),
		"read_failures":  a.readFailures.Load(),
		"token_reads":    a.tokenReads.Load(),
	}
}
