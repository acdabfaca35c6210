package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	tm, err := NewTokenManager("correct horse battery staple")
	require.NoError(t, err)

	token, err := tm.CreateToken("watch-1", "watch")
	require.NoError(t, err)

	claims, err := tm.VerifyToken(token)
	require.NoError(t, err)
	require.Equal(t, "watch-1", claims.DeviceID)
	require.Equal(t, "watch", claims.Kind)
	require.Equal(t, "wristlink", claims.Issuer)
}

func TestSameAccessKeyDerivesSameKeys(t *testing.T) {
	a, err := NewTokenManager("shared-key")
	require.NoError(t, err)
	b, err := NewTokenManager("shared-key")
	require.NoError(t, err)

	token, err := a.CreateToken("phone-1", "phone")
	require.NoError(t, err)

	// The peer derives the same key pair and can verify without exchange.
	claims, err := b.VerifyToken(token)
	require.NoError(t, err)
	require.Equal(t, "phone-1", claims.DeviceID)
}

func TestWrongAccessKeyRejectsToken(t *testing.T) {
	a, err := NewTokenManager("key-one")
	require.NoError(t, err)
	b, err := NewTokenManager("key-two")
	require.NoError(t, err)

	token, err := a.CreateToken("watch-1", "watch")
	require.NoError(t, err)

	_, err = b.VerifyToken(token)
	require.Error(t, err)
}

func TestEmptyAccessKeyRejected(t *testing.T) {
	_, err := NewTokenManager("")
	require.Error(t, err)
}

func TestGarbageTokenRejected(t *testing.T) {
	tm, err := NewTokenManager("key")
	require.NoError(t, err)

	_, err = tm.VerifyToken("not.a.token")
	require.Error(t, err)
}
