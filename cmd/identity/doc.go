// Package identity is the credential-verification boundary.
//
// The auth layer only ever asks "who is this?" and gets back a Principal or
// ErrInvalidCredentials. The Directory implementation holds a static set of
// operator accounts with Argon2id password hashes.
package identity
