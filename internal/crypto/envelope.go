// Package crypto encrypts message content at rest using an AEAD envelope.
package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the required length, in bytes, of the process-wide encryption
// key (MAILBOX_ENCRYPTION_KEY).
const KeySize = chacha20poly1305.KeySize

const envelopeVersion byte = 1

// ErrInvalidKey is returned when a supplied key is not KeySize bytes.
var ErrInvalidKey = errors.New("crypto: key must be 32 bytes")

// Envelope encrypts and decrypts message content with a single process-wide
// key. Decrypt falls back to returning its input unchanged whenever the
// input cannot be parsed or authenticated as one of this package's
// envelopes, so content written before encryption was enabled (or written by
// a future envelope version) is never corrupted or rejected.
type Envelope struct {
	aead cipher.AEAD
}

// NewEnvelope builds an Envelope from a raw 32-byte key.
func NewEnvelope(key []byte) (*Envelope, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: %w", err)
	}
	return &Envelope{aead: aead}, nil
}

// ParseKey decodes a key given as hex or standard/url-safe base64. It tries
// hex first since a 32-byte key hex-encodes to a fixed 64 characters.
func ParseKey(s string) ([]byte, error) {
	if b, err := hex.DecodeString(s); err == nil && len(b) == KeySize {
		return b, nil
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(s); err == nil && len(b) == KeySize {
			return b, nil
		}
	}
	return nil, ErrInvalidKey
}

// Encrypt seals plaintext into a versioned envelope: one byte version tag,
// followed by a fresh 24-byte nonce, followed by ciphertext+tag.
func (e *Envelope) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	out := make([]byte, 0, 1+len(nonce)+len(plaintext)+e.aead.Overhead())
	out = append(out, envelopeVersion)
	out = append(out, nonce...)
	out = e.aead.Seal(out, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens an envelope produced by Encrypt. If data is not a
// base64-encoded envelope of a version this package understands, or fails
// authentication, Decrypt returns data unchanged so legacy plaintext content
// keeps working.
func (e *Envelope) Decrypt(data string) string {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return data
	}
	nonceSize := e.aead.NonceSize()
	if len(raw) < 1+nonceSize || raw[0] != envelopeVersion {
		return data
	}
	nonce := raw[1 : 1+nonceSize]
	ciphertext := raw[1+nonceSize:]
	plaintext, err := e.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return data
	}
	return string(plaintext)
}
