package token

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"io"
)

const (
	// Bytes is the entropy of a generated token (128 bits).
	Bytes = 16
	// EncodedLen is the base64url (no padding) length of a generated token.
	EncodedLen = 22
	// HashLen is the length of a SHA-256 hex digest.
	HashLen = 64
)

var reader io.Reader = rand.Reader

// Generate returns a fresh random token (22 chars, charset [A-Za-z0-9_-]).
func Generate() (string, error) {
	b := make([]byte, Bytes)
	if _, err := io.ReadFull(reader, b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// WellFormed reports whether s has the shape of a generated token.
func WellFormed(s string) bool {
	if len(s) != EncodedLen {
		return false
	}
	b, err := base64.RawURLEncoding.Strict().DecodeString(s)
	return err == nil && len(b) == Bytes
}

// Parse returns s unchanged when it is well formed.
func Parse(s string) (string, error) {
	if !WellFormed(s) {
		return "", ErrMalformedToken
	}
	return s, nil
}

// HashSHA256Hex returns a SHA-256 hex digest of s (64 lowercase hex chars).
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// EqualHex compares two hex digests in constant time.
func EqualHex(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
