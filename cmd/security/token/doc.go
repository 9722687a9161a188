// Package token holds the secret-material primitives shared by the auth stores.
//
// Secrets handed to clients (CSRF tokens) are never kept in plaintext on the
// server. A Hasher reduces them to a 64-char hex digest:
// - no key configured: SHA-256(secret), suitable for development;
// - key configured: HMAC-SHA256(secret, key).
//
// Digests are compared in constant time.
package token
