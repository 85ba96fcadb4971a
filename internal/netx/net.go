// Package netx contains HTTP helpers shared by the remote client.
package netx

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// MaxErrorBody bounds how much of an error response body is kept for messages.
const MaxErrorBody = 4 << 10

// ParseRetryAfter interprets a Retry-After header given either as delay
// seconds or as an HTTP date. The second result is false when the header is
// absent or malformed. Dates in the past yield zero.
func ParseRetryAfter(h string, now time.Time) (time.Duration, bool) {
	h = strings.TrimSpace(h)
	if h == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(h); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	when, err := http.ParseTime(h)
	if err != nil {
		return 0, false
	}
	d := when.Sub(now)
	if d < 0 {
		d = 0
	}
	return d, true
}

// ErrorBody reads at most MaxErrorBody bytes of r for diagnostics.
func ErrorBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, MaxErrorBody))
	return strings.TrimSpace(string(b))
}

// StatusError describes an unexpected HTTP status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}
