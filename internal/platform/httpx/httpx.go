package httpx

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"time"
)

// StatusCoder is implemented by client errors that carry an HTTP status so
// retry policy can be decided without depending on the client's error type.
type StatusCoder interface {
	HTTPStatusCode() int
}

// IsRetryableError reports whether a failed request is worth retrying.
// Rate limiting and server errors are; context cancellation and other
// client errors are not. Unclassified transport faults retry.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		code := sc.HTTPStatusCode()
		return code == http.StatusTooManyRequests || code >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return true
}

// RetryAfterDuration resolves how long to wait before the next attempt,
// honoring a Retry-After header when the server sent one, clamped to max.
func RetryAfterDuration(resp *http.Response, fallback, max time.Duration) time.Duration {
	d := fallback
	if resp != nil {
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
				d = time.Duration(secs) * time.Second
			} else if t, err := http.ParseTime(v); err == nil {
				if until := time.Until(t); until > 0 {
					d = until
				}
			}
		}
	}
	if max > 0 && d > max {
		d = max
	}
	if d < 0 {
		d = 0
	}
	return d
}

// JitterSleep spreads a backoff interval across 0.5x-1.5x so synchronized
// clients do not retry in lockstep.
func JitterSleep(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(float64(d) * (0.5 + rand.Float64()))
}
