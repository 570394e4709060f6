// Package invite models the three ways into a family.
//
//   - Legacy: the family's shared INV-XXXX-XXXX-XXXX code (Family.InviteCode).
//   - Addressed: a per-invitee row with a plaintext email. It either carries
//     client-encrypted family key material (Encrypted) or waits for the
//     invitee to register (PendingRegistration).
//   - EmailBound: a single-use code whose hash is stored next to an
//     AES-GCM envelope of the invitee email.
//
// Addressed and EmailBound invites share the Redeemable capability; Check
// applies the expiry and single-use rules uniformly.
package invite
