package token_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-cluster-gateway/token"
	"github.com/stretchr/testify/require"
)

func signedJWT(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return s
}

func TestExpiry(t *testing.T) {
	t.Run("jwt", func(t *testing.T) {
		exp := time.Now().Add(time.Hour).Truncate(time.Second)
		got, ok := token.Expiry(signedJWT(t, exp))
		require.True(t, ok)
		require.True(t, exp.Equal(got))
	})

	t.Run("opaque", func(t *testing.T) {
		_, ok := token.Expiry("opaque-access-token")
		require.False(t, ok)
	})

	t.Run("jwt without exp", func(t *testing.T) {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "x"}).SignedString([]byte("k"))
		require.NoError(t, err)
		_, ok := token.Expiry(s)
		require.False(t, ok)
	})
}

func TestIsExpired(t *testing.T) {
	require.True(t, token.IsExpired(signedJWT(t, time.Now().Add(-time.Hour))))
	require.False(t, token.IsExpired(signedJWT(t, time.Now().Add(time.Hour))))
	require.False(t, token.IsExpired("opaque-access-token"))
	require.False(t, token.IsExpired(""))
}

func TestCredential_SetAuthHeader(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "http://backend/core/units", nil)
	require.NoError(t, err)

	token.Credential("abc123").SetAuthHeader(req)

	require.Equal(t, "Bearer abc123", req.Header.Get("Authorization"))
}
