// Package family implements Hearth's account, membership and invitation lifecycle.
//
// Service is the single entry point used by the transport layer. Callers pass
// an already-authenticated user id where an operation requires one. Every
// multi-write operation runs inside one store transaction; outbound email is
// dispatched only after that transaction commits, and its failure never
// changes the result returned to the caller.
//
// Invites come in three variants:
//
//   - addressed, key-bearing (createEncryptedInvite): plaintext invitee email,
//     opaque client-encrypted family key, legacy-format code
//   - addressed, pending registration (createPendingInvite): no key material
//     until the invitee registers; upgraded in place by a later encrypted invite
//   - email-bound (createInvite): invitee email sealed with AES-256-GCM, only
//     the SHA-256 of the code is stored
//
// Single-use redemption is enforced by conditional updates in the store; a
// conditional update that changes no row is reported as "already used".
package family
