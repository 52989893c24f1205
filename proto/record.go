package proto

import (
	"strconv"
	"strings"
	"time"
)

// Expiry parses TokenExpiry, which the service reports either as an RFC 3339 timestamp or as an
// integer in seconds, milliseconds or nanoseconds since the epoch.
func (r *AuthRecord) Expiry() (time.Time, bool) {
	if r == nil {
		return time.Time{}, false
	}
	s := strings.TrimSpace(r.TokenExpiry)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}, false
	}
	switch {
	case n > 1e17:
		return time.Unix(0, n), true
	case n > 1e11:
		return time.UnixMilli(n), true
	default:
		return time.Unix(n, 0), true
	}
}

// Expired reports whether the token expiry is known and not after now.
func (r *AuthRecord) Expired(now time.Time) bool {
	exp, ok := r.Expiry()
	if !ok {
		return false
	}
	return !now.Before(exp)
}

func (r *AuthRecord) CapturedTime() time.Time {
	return time.UnixMilli(r.CapturedAt)
}
