package wallet

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenUser = "zano_trade_app"
	tokenTTL  = time.Minute
)

// accessToken builds the time-boxed HMAC token the wallet RPC expects in the
// Zano-Access-Token header: an HS256 JWT binding the SHA-256 of the exact
// request body, salted so tokens never repeat.
func accessToken(body []byte, secret string) (string, error) {
	bodyHash := sha256.Sum256(body)

	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate token salt: %w", err)
	}

	claims := jwt.MapClaims{
		"body_hash": hex.EncodeToString(bodyHash[:]),
		"user":      tokenUser,
		"salt":      hex.EncodeToString(salt),
		"exp":       time.Now().Add(tokenTTL).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}
