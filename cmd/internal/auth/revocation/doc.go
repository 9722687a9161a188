// Package revocation keeps the set of revoked token ids.
//
// A revoked id stays in the registry until the token would have expired on
// its own; after that the token is rejected by its own expiry check and the
// entry is dead weight. Tokens may also be tracked against the session that
// issued them so that ending a session revokes everything it handed out.
package revocation
