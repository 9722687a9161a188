// Package csrf manages per-session anti-forgery tokens.
//
// Each Active session has at most one live token. Issuing again replaces it
// with no grace overlap. Validation fails closed: an unknown session, a
// session that is no longer Active, a missing token and a mismatch are all
// rejections. Only the digest of a token is retained.
package csrf
