package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidate(t *testing.T) {
	m, err := NewManager("s3cret", "chat-sync", time.Hour)
	require.NoError(t, err)

	tok, exp, err := m.GenerateToken("u1", "alice")
	require.NoError(t, err)
	assert.True(t, exp.After(time.Now()))

	claims, err := m.ValidateToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "alice", claims.Username)
}

func TestValidateRejectsForeignSecret(t *testing.T) {
	a, _ := NewManager("one", "chat-sync", time.Hour)
	b, _ := NewManager("two", "chat-sync", time.Hour)

	tok, _, err := a.GenerateToken("u1", "alice")
	require.NoError(t, err)

	_, err = b.ValidateToken(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateExpired(t *testing.T) {
	m, _ := NewManager("s3cret", "chat-sync", time.Minute)
	m.now = func() time.Time { return time.Now().Add(-time.Hour) }
	tok, _, err := m.GenerateToken("u1", "alice")
	require.NoError(t, err)

	m.now = time.Now
	_, err = m.ValidateToken(tok)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestValidateGarbage(t *testing.T) {
	m, _ := NewManager("s3cret", "", time.Minute)
	_, err := m.ValidateToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewManagerRequiresSecret(t *testing.T) {
	_, err := NewManager("", "x", time.Minute)
	assert.ErrorIs(t, err, ErrMissingKey)
}
