package ratelimit

import "errors"

var (
	ErrStoreUnavailable = errors.New("rate limit store unavailable")
	ErrInvalidTable     = errors.New("invalid rate limit table")
)
