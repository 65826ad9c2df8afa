package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	"github.com/samber/oops"
)

// TokenBytes is the entropy of session and reset tokens.
const TokenBytes = 32

// GenerateToken returns a hex-encoded random token of TokenBytes bytes.
func GenerateToken() (string, error) {
	b := make([]byte, TokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", oops.Code("TOKEN_GENERATION_FAILED").Wrap(err)
	}
	return hex.EncodeToString(b), nil
}

// HashToken returns the SHA-256 hex digest stores use in place of the token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
