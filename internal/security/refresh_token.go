package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const refreshSecretLength = 48

// HashRefreshToken derives the stored form of a raw refresh secret.
func HashRefreshToken(raw, pepper string) string {
	mac := hmac.New(sha256.New, []byte(pepper))
	_, _ = mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}

// NewRefreshTokenSecret returns a url-safe random secret handed to the client once.
func NewRefreshTokenSecret() (string, error) {
	v, err := gonanoid.New(refreshSecretLength)
	if err != nil {
		return "", fmt.Errorf("generate refresh secret: %w", err)
	}
	return v, nil
}
