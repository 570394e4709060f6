package identity

import (
	"encoding/base64"
	"errors"
)

const (
	// PublicKeySize is the raw key size (X25519 / Ed25519 sized).
	PublicKeySize = 32
	// PublicKeyEncodedLen is the length of the padded base64 form of a 32-byte key.
	PublicKeyEncodedLen = 44
)

// ErrInvalidPublicKey is returned for keys that are not base64 of exactly 32 bytes.
var ErrInvalidPublicKey = errors.New("invalid public key")

// ValidatePublicKey checks the transport format of a client public key.
// The key material itself is opaque to the server.
func ValidatePublicKey(s string) error {
	if len(s) != PublicKeyEncodedLen {
		return ErrInvalidPublicKey
	}
	raw, err := base64.StdEncoding.Strict().DecodeString(s)
	if err != nil || len(raw) != PublicKeySize {
		return ErrInvalidPublicKey
	}
	return nil
}
