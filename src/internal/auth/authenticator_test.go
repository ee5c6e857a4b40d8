// FILE: chatwisp/src/internal/auth/authenticator_test.go
package auth

import (
	"testing"
	"time"

	"chatwisp/src/internal/config"
	"chatwisp/src/internal/core"

	"github.com/lixenwraith/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *log.Logger {
	return log.NewLogger()
}

func TestAuthenticator_Open(t *testing.T) {
	a := New(config.IngestConfig{}, config.QueryConfig{}, newTestLogger())

	assert.NoError(t, a.AuthorizeWrite(WriteCredentials{}))
	assert.NoError(t, a.AuthorizeRead(ReadCredentials{}))
	assert.False(t, a.ReadProtected())
}

func TestAuthenticator_Write(t *testing.T) {
	a := New(config.IngestConfig{WriteKey: "w-key"}, config.QueryConfig{}, newTestLogger())

	assert.NoError(t, a.AuthorizeWrite(WriteCredentials{Keys: []string{"", "w-key"}}))

	err := a.AuthorizeWrite(WriteCredentials{Keys: []string{"nope"}})
	assert.ErrorIs(t, err, core.ErrUnauthorized)
	err = a.AuthorizeWrite(WriteCredentials{})
	assert.ErrorIs(t, err, core.ErrUnauthorized)
	assert.Equal(t, uint64(2), a.GetStats()["write_failures"])

	// Reads stay open when only a write key is set
	assert.NoError(t, a.AuthorizeRead(ReadCredentials{}))
}

func TestAuthenticator_ReadKey(t *testing.T) {
	a := New(config.IngestConfig{}, config.QueryConfig{ViewKey: "v-key"}, newTestLogger())

	assert.NoError(t, a.AuthorizeRead(ReadCredentials{Key: "v-key"}))
	assert.ErrorIs(t, a.AuthorizeRead(ReadCredentials{Key: "w"}), core.ErrUnauthorized)
	assert.ErrorIs(t, a.AuthorizeRead(ReadCredentials{}), core.ErrUnauthorized)
}

func TestAuthenticator_ReadToken(t *testing.T) {
	jwtCfg := config.JWTConfig{SigningKey: "signing-secret", Issuer: "chatwisp", Audience: "viewers"}
	a := New(config.IngestConfig{}, config.QueryConfig{JWT: jwtCfg}, newTestLogger())
	require.True(t, a.ReadProtected())

	token, err := IssueToken(jwtCfg, "dashboard", time.Minute)
	require.NoError(t, err)
	assert.NoError(t, a.AuthorizeRead(ReadCredentials{Authorization: "Bearer " + token}))

	t.Run("Expired", func(t *testing.T) {
		expired, err := IssueToken(jwtCfg, "dashboard", -time.Hour)
		require.NoError(t, err)
		assert.ErrorIs(t, a.AuthorizeRead(ReadCredentials{Authorization: "Bearer " + expired}), core.ErrUnauthorized)
	})

	t.Run("WrongKey", func(t *testing.T) {
		forged, err := IssueToken(config.JWTConfig{SigningKey: "other", Issuer: "chatwisp", Audience: "viewers"}, "x", time.Minute)
		require.NoError(t, err)
		assert.ErrorIs(t, a.AuthorizeRead(ReadCredentials{Authorization: "Bearer " + forged}), core.ErrUnauthorized)
	})

	t.Run("WrongAudience", func(t *testing.T) {
		other, err := IssueToken(config.JWTConfig{SigningKey: "signing-secret", Issuer: "chatwisp", Audience: "admins"}, "x", time.Minute)
		require.NoError(t, err)
		assert.ErrorIs(t, a.AuthorizeRead(ReadCredentials{Authorization: "Bearer " + other}), core.ErrUnauthorized)
	})

	t.Run("NoCredential", func(t *testing.T) {
		assert.ErrorIs(t, a.AuthorizeRead(ReadCredentials{}), core.ErrUnauthorized)
	})
}
