package revocation

import "errors"

// ErrInvalidTokenID is returned for an empty token id.
var ErrInvalidTokenID = errors.New("invalid token id")
