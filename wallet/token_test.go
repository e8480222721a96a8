package wallet

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestAccessTokenClaims(t *testing.T) {
	t.Parallel()

	body := []byte(`{"jsonrpc":"2.0","id":"0","method":"getaddress","params":{}}`)
	secret := "local-secret"

	signed, err := accessToken(body, secret)
	require.NoError(t, err)

	parsed, err := jwt.Parse(signed, func(token *jwt.Token) (any, error) {
		require.Equal(t, jwt.SigningMethodHS256, token.Method)
		return []byte(secret), nil
	})
	require.NoError(t, err)
	require.True(t, parsed.Valid)

	claims, ok := parsed.Claims.(jwt.MapClaims)
	require.True(t, ok)

	wantHash := sha256.Sum256(body)
	require.Equal(t, hex.EncodeToString(wantHash[:]), claims["body_hash"])
	require.Equal(t, "zano_trade_app", claims["user"])

	salt, ok := claims["salt"].(string)
	require.True(t, ok)
	raw, err := hex.DecodeString(salt)
	require.NoError(t, err)
	require.Len(t, raw, 32)

	exp, err := claims.GetExpirationTime()
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(time.Minute), exp.Time, 5*time.Second)
}

func TestAccessTokenSaltsDiffer(t *testing.T) {
	t.Parallel()

	body := []byte(`{}`)
	first, err := accessToken(body, "s")
	require.NoError(t, err)
	second, err := accessToken(body, "s")
	require.NoError(t, err)
	require.NotEqual(t, first, second, "each request gets a fresh salt")
}
