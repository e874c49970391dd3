package cmd

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenCommand(t *testing.T) {
	originalSecret := cfg.API.Secret
	t.Cleanup(
		func() {
			cfg.API.Secret = originalSecret
			tokenSubject = "admin"
			tokenLifetime = 0
		},
	)

	cfg.API.Secret = "test-secret"
	tokenSubject = "ops"
	tokenLifetime = time.Hour

	var buf bytes.Buffer
	tokenCmd.SetOut(&buf)
	require.NoError(t, tokenCmd.RunE(tokenCmd, nil))

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(
		strings.TrimSpace(buf.String()),
		claims,
		func(_ *jwt.Token) (any, error) {
			return []byte("test-secret"), nil
		},
	)
	require.NoError(t, err)
	assert.True(t, token.Valid)
	assert.Equal(t, "ops", claims.Subject)
	require.NotNil(t, claims.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, time.Minute)
}

func TestTokenCommandNoSecret(t *testing.T) {
	originalSecret := cfg.API.Secret
	t.Cleanup(func() { cfg.API.Secret = originalSecret })

	cfg.API.Secret = ""
	assert.Error(t, tokenCmd.RunE(tokenCmd, nil))
}
