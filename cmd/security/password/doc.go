// Package password hashes and verifies account passwords.
//
// New hashes are Argon2id in PHC form:
//
//	$argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<hash_b64>
//
// Accounts migrated from the previous backend still carry bcrypt hashes
// ($2a$, $2b$, $2y$). Those verify as usual and report NeedsRehash so the
// caller can upgrade them after a successful login.
//
// Hash strings are treated as untrusted input and verification refuses
// parameters far beyond the configured cost.
package password
