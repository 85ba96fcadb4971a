package client

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnavailable  = errors.New("server unavailable")
	ErrRateLimited  = errors.New("rate limited")
	ErrUnauthorized = errors.New("unauthorized")
	ErrConflict     = errors.New("conflict")
	// ErrBadResponse marks a response body that could not be decoded.
	ErrBadResponse = errors.New("malformed server response")
)

// RateLimitedError is returned for HTTP 429. RetryAfter is zero when the
// server did not send a delay.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// IsTransient reports whether err is worth retrying in a later sync cycle.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrRateLimited)
}
