package token

import "errors"

// Public, stable errors for callers.
var (
	ErrHMACKeyTooShort = errors.New("token HMAC key too short")
	ErrEntropy         = errors.New("token entropy source failed")
)
