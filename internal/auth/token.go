// Package auth issues and verifies agent API keys.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
)

const (
	// KeyPrefix is prepended to every issued API key.
	KeyPrefix = "amb_"

	keyRawBytes    = 32 // 32 bytes of randomness -> 64 hex chars
	prefixHexChars = 8  // stored alongside the hash for display
)

// ErrMalformedKey is returned when a presented key does not match the
// amb_<64-hex> shape and therefore cannot have been issued by this package.
var ErrMalformedKey = errors.New("auth: malformed api key")

// IssuedKey is the result of minting a new API key. Plaintext is shown to
// the caller exactly once; only Hash and Prefix are persisted.
type IssuedKey struct {
	Plaintext string
	Hash      string
	Prefix    string
}

// Issue generates a new API key of the form amb_<64 hex chars>.
func Issue() (IssuedKey, error) {
	raw := make([]byte, keyRawBytes)
	if _, err := rand.Read(raw); err != nil {
		return IssuedKey{}, err
	}
	plaintext := KeyPrefix + hex.EncodeToString(raw)
	return IssuedKey{
		Plaintext: plaintext,
		Hash:      Hash(plaintext),
		Prefix:    plaintext[:len(KeyPrefix)+prefixHexChars],
	}, nil
}

// Hash returns the SHA-256 hex digest of a plaintext API key. Only the hash
// is ever stored; the plaintext is not recoverable from it.
func Hash(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// Prefix returns the storage/display prefix of a plaintext API key, or an
// error if the key is too short to have one.
func Prefix(plaintext string) (string, error) {
	n := len(KeyPrefix) + prefixHexChars
	if len(plaintext) < n {
		return "", ErrMalformedKey
	}
	return plaintext[:n], nil
}

// Equal reports whether two hex-encoded hashes match, in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
