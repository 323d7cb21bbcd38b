package invites

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

const (
	TokenPrefix = "cdi_"
	TokenBytes  = 32
)

// GenerateToken mints an invitation bearer token. The token carries no
// structured payload; all authoritative state lives in the invitation row,
// keyed by the token's hash.
func GenerateToken() (token string, hash []byte, err error) {
	randomBytes := make([]byte, TokenBytes)
	_, err = rand.Read(randomBytes)
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(randomBytes)
	token = TokenPrefix + encoded
	hash = HashToken(token)

	return token, hash, nil
}

// HashToken returns the sha256 digest stored in place of the plaintext token.
// Lookup is by exact hash match against a unique index.
func HashToken(token string) []byte {
	h := sha256.Sum256([]byte(token))
	return h[:]
}

// ValidateTokenFormat checks the token shape without touching the store.
func ValidateTokenFormat(token string) bool {
	if len(token) < len(TokenPrefix) {
		return false
	}

	if token[:len(TokenPrefix)] != TokenPrefix {
		return false
	}

	encoded := token[len(TokenPrefix):]
	decoded, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return false
	}

	return len(decoded) == TokenBytes
}
