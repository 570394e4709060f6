// Package session issues and verifies Hearth's bearer tokens.
//
// Every successful register, login, family creation or join ends with a
// token pair: a 7-day HS256 access token carrying the user id and, when set,
// the active family id; and a 30-day refresh token signed with a separate
// secret that carries only the user id. Tokens are stateless; there is no
// server-side session row.
package session
