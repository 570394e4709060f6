// Package token provides random token generation and token hashing for Hearth.
//
// Tokens (email verification tokens, email-bound invite codes) are 16 random
// bytes encoded as base64url without padding, always 22 characters.
// Only their SHA-256 hex digest is ever persisted; the digest is used for
// equality lookup.
package token
