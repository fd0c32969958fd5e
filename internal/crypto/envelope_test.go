package crypto

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"testing"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generating test key: %v", err)
	}
	return key
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env, err := NewEnvelope(testKey(t))
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}

	const want = "the quick brown fox"
	ciphertext, err := env.Encrypt(want)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if ciphertext == want {
		t.Fatal("ciphertext must not equal plaintext")
	}
	if got := env.Decrypt(ciphertext); got != want {
		t.Errorf("Decrypt = %q, want %q", got, want)
	}
}

func TestEnvelopeDifferentNoncePerCall(t *testing.T) {
	env, err := NewEnvelope(testKey(t))
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}
	a, _ := env.Encrypt("same content")
	b, _ := env.Encrypt("same content")
	if a == b {
		t.Error("two encryptions of the same plaintext should differ (fresh nonce)")
	}
}

func TestEnvelopeDecryptFallsBackOnLegacyPlaintext(t *testing.T) {
	env, err := NewEnvelope(testKey(t))
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}
	const legacy = "message written before encryption was enabled"
	if got := env.Decrypt(legacy); got != legacy {
		t.Errorf("Decrypt(legacy) = %q, want unchanged %q", got, legacy)
	}
}

func TestEnvelopeDecryptFallsBackOnWrongKey(t *testing.T) {
	envA, err := NewEnvelope(testKey(t))
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}
	envB, err := NewEnvelope(testKey(t))
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}
	ciphertext, _ := envA.Encrypt("secret")
	if got := envB.Decrypt(ciphertext); got != ciphertext {
		t.Errorf("Decrypt with wrong key should return input unchanged, got %q", got)
	}
}

func TestNewEnvelopeRejectsBadKeySize(t *testing.T) {
	if _, err := NewEnvelope(make([]byte, 16)); err != ErrInvalidKey {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
}

func TestParseKeyHex(t *testing.T) {
	key := testKey(t)
	encoded := hex.EncodeToString(key)
	got, err := ParseKey(encoded)
	if err != nil {
		t.Fatalf("ParseKey failed: %v", err)
	}
	if !bytes.Equal(got, key) {
		t.Error("ParseKey(hex) did not round-trip the key bytes")
	}
}

func TestParseKeyBase64(t *testing.T) {
	key := testKey(t)
	encoded := base64.StdEncoding.EncodeToString(key)
	got, err := ParseKey(encoded)
	if err != nil {
		t.Fatalf("ParseKey failed: %v", err)
	}
	if !bytes.Equal(got, key) {
		t.Error("ParseKey(base64) did not round-trip the key bytes")
	}
}

func TestParseKeyRejectsWrongLength(t *testing.T) {
	if _, err := ParseKey("deadbeef"); err != ErrInvalidKey {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
}
