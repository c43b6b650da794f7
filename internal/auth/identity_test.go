// internal/auth/identity_test.go
package auth

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	Init(time.Hour)

	userID := uuid.New()
	token, err := CreateJWT(userID.String(), "alice")
	require.NoError(t, err)

	sub, name, err := AuthenticateJWT(token)
	require.NoError(t, err)
	assert.Equal(t, userID.String(), sub)
	assert.Equal(t, "alice", name)
}

func TestVerifyRejectsGarbageToken(t *testing.T) {
	Init(time.Hour)
	v := NewVerifier(nil)

	_, err := v.Verify(context.Background(), "not-a-token", "")
	assert.Error(t, err)
}

func TestVerifyMintsGuestForEmptyToken(t *testing.T) {
	v := NewVerifier(nil)

	ident, err := v.Verify(context.Background(), "", "drop-in")
	require.NoError(t, err)
	assert.True(t, ident.Guest)
	assert.Equal(t, "drop-in", ident.DisplayName)
	assert.NotEqual(t, uuid.Nil, ident.UserID)

	anon, err := v.Verify(context.Background(), "", "")
	require.NoError(t, err)
	assert.Contains(t, anon.DisplayName, "guest-")
}

func TestGuestIdentitiesAreDistinct(t *testing.T) {
	a := MintGuest("same-name")
	b := MintGuest("same-name")
	assert.NotEqual(t, a.UserID, b.UserID)
}
