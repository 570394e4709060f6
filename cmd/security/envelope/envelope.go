// Package envelope encrypts invitee email addresses at rest.
//
// An envelope is base64(IV(12) || ciphertext || tag(16)) produced by
// AES-256-GCM under a server-held key. Every call draws a fresh IV, so the
// same plaintext never produces the same envelope twice.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"strings"
)

const (
	// KeyHexLen is the required length of the configured key.
	KeyHexLen = 64
	ivSize    = 12
	tagSize   = 16
)

var (
	// ErrInvalidKey is returned when the configured key is not 64 hex characters.
	ErrInvalidKey = errors.New("envelope: key must be exactly 64 hex characters")
	// ErrDecryptionFailed is the only error Decrypt returns for bad input.
	ErrDecryptionFailed = errors.New("decryption failed")
)

// Cipher seals and opens email envelopes. It is safe for concurrent use.
type Cipher struct {
	aead cipher.AEAD
	rand io.Reader
}

// NewCipher builds a Cipher from a 64-hex-char key.
func NewCipher(hexKey string) (*Cipher, error) {
	hexKey = strings.TrimSpace(hexKey)
	if len(hexKey) != KeyHexLen {
		return nil, ErrInvalidKey
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ErrInvalidKey
	}
	aead, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, err
	}
	return &Cipher{aead: aead, rand: rand.Reader}, nil
}

// ValidateKey checks a key without building a Cipher.
func ValidateKey(hexKey string) error {
	_, err := NewCipher(hexKey)
	return err
}

// Encrypt seals plaintext into a base64 envelope.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, ivSize, ivSize+len(plaintext)+tagSize)
	if _, err := io.ReadFull(c.rand, iv); err != nil {
		return "", err
	}
	sealed := c.aead.Seal(iv, iv, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens an envelope. Any malformed or tampered input yields ErrDecryptionFailed.
func (c *Cipher) Decrypt(envelope string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil || len(raw) < ivSize+tagSize {
		return "", ErrDecryptionFailed
	}
	plain, err := c.aead.Open(nil, raw[:ivSize], raw[ivSize:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plain), nil
}
