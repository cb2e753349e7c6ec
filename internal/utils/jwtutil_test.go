package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer("test-secret")
	token, exp, err := issuer.GenerateToken(7, "alice", RoleAdmin, time.Hour)
	require.NoError(t, err)
	require.True(t, exp.After(time.Now()))

	claims, err := issuer.ParseToken(token)
	require.NoError(t, err)
	require.Equal(t, int64(7), claims.UserId)
	require.Equal(t, RoleAdmin, claims.Role)
}

func TestParseTokenRejects(t *testing.T) {
	issuer := NewTokenIssuer("test-secret")

	other, _, err := NewTokenIssuer("other-secret").GenerateToken(7, "alice", RoleAdmin, time.Hour)
	require.NoError(t, err)
	_, err = issuer.ParseToken(other)
	require.Error(t, err)

	expired, _, err := issuer.GenerateToken(7, "alice", "", -time.Minute)
	require.NoError(t, err)
	_, err = issuer.ParseToken(expired)
	require.Error(t, err)

	anonymous, _, err := issuer.GenerateToken(0, "nobody", "", time.Hour)
	require.NoError(t, err)
	_, err = issuer.ParseToken(anonymous)
	require.Error(t, err)
}

func TestParseTokenDefaultsRole(t *testing.T) {
	issuer := NewTokenIssuer("test-secret")
	token, _, err := issuer.GenerateToken(3, "bob", "", time.Hour)
	require.NoError(t, err)
	claims, err := issuer.ParseToken(token)
	require.NoError(t, err)
	require.Equal(t, RoleDistributor, claims.Role)
}
