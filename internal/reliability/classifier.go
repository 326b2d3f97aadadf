package reliability

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

var retryableStatus = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Upstream realtime error codes and types that clear up on their own.
var retryableRealtime = map[string]bool{
	"rate_limit_exceeded": true,
	"rate_limited":        true,
	"server_error":        true,
	"internal_error":      true,
	"resource_exhausted":  true,
	"overloaded":          true,
	"timeout":             true,
}

// IsRetryableHTTPStatus reports whether a provider HTTP status is transient.
func IsRetryableHTTPStatus(code int) bool {
	return retryableStatus[code]
}

// IsRetryableRealtimeMessageType reports whether an upstream realtime error
// code or type is transient.
func IsRetryableRealtimeMessageType(code string) bool {
	return retryableRealtime[strings.ToLower(strings.TrimSpace(code))]
}

// ExponentialBackoff returns base doubled attempt times, capped at cap.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 0; i < attempt && d < cap; i++ {
		d *= 2
	}
	if cap > 0 && d > cap {
		return cap
	}
	return d
}

// RetryAfter reads a Retry-After header given in seconds. Missing, invalid or
// HTTP-date values yield fallback.
func RetryAfter(h http.Header, fallback time.Duration) time.Duration {
	if h == nil {
		return fallback
	}
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return fallback
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return fallback
	}
	return time.Duration(secs) * time.Second
}
