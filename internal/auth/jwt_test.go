package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyRoundTrip(t *testing.T) {
	v, err := NewVerifier("secret", 0)
	require.NoError(t, err)

	token, err := v.Sign(42, []string{"admin"}, time.Minute)
	require.NoError(t, err)

	p, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), p.UserID)
	assert.True(t, p.HasRole("admin"))
	assert.False(t, p.HasRole("seller"))
}

func TestVerifyRejects(t *testing.T) {
	v, err := NewVerifier("secret", 0)
	require.NoError(t, err)
	other, err := NewVerifier("other-secret", 0)
	require.NoError(t, err)

	wrongKey, err := other.Sign(1, nil, time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(wrongKey)
	assert.Error(t, err)

	expired, err := v.Sign(1, nil, -time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(expired)
	assert.Error(t, err)

	badSubject := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "alice",
		"exp": time.Now().Add(time.Minute).Unix(),
	})
	raw, err := badSubject.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = v.Verify(raw)
	assert.Error(t, err)

	noExpiry := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "1"})
	raw, err = noExpiry.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = v.Verify(raw)
	assert.Error(t, err)

	_, err = v.Verify("not-a-token")
	assert.Error(t, err)
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	_, err := NewVerifier("", 0)
	assert.Error(t, err)
}
