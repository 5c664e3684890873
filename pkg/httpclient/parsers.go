package httpclient

import (
	"net/http"
	"strconv"
	"time"
)

// ParseRetryHeaders reads the standard Retry-After header, either as a
// delay in seconds or as an HTTP date.
func ParseRetryHeaders(headers http.Header) RetryInfo {
	info := RetryInfo{}

	retryAfter := headers.Get("Retry-After")
	if retryAfter == "" {
		return info
	}

	if seconds, err := strconv.Atoi(retryAfter); err == nil {
		info.RetryAfter = time.Duration(seconds) * time.Second
		return info
	}

	if t, err := http.ParseTime(retryAfter); err == nil {
		if d := time.Until(t); d > 0 {
			info.RetryAfter = d
		}
	}

	return info
}
