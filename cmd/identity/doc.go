// Package identity holds Hearth's domain model: users, families, memberships,
// verification tokens and chat entities, plus the error taxonomy shared by
// every service and transport.
//
// It has no persistence or transport dependencies.
package identity
