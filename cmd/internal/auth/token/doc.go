// Package token issues PASETO v4.public bearer access tokens bound to a session.
//
// Every token carries a unique id (jti) so it can be revoked individually
// before its natural expiry.
package token
