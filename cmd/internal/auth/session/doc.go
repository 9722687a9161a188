// Package session owns the server-authoritative admin session state.
//
// A Session moves through Active -> Expired (inactivity or max lifetime) or
// Active -> Revoked (logout, superseded login, admin action). Both are terminal.
// Expiry is evaluated on access (Get, Heartbeat, CountActive) and by
// CleanupExpired, which also evicts terminal sessions from memory.
//
// The store is in-memory and single-process authoritative. Durable storage and
// cross-instance coordination are out of scope.
package session
