package httpclient

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ParseRetryAfter reads the standard Retry-After header in seconds or as an
// HTTP date.
func ParseRetryAfter(headers http.Header) RateLimitInfo {
	info := RateLimitInfo{}

	retryAfter := headers.Get("Retry-After")
	if retryAfter == "" {
		return info
	}
	if seconds, err := strconv.Atoi(retryAfter); err == nil {
		info.RetryAfter = time.Duration(seconds) * time.Second
	} else if t, err := http.ParseTime(retryAfter); err == nil {
		if d := time.Until(t); d > 0 {
			info.RetryAfter = d
		}
	}
	return info
}

// ParseOpenAIHeaders reads OpenAI-style rate limit headers, which Groq
// also sends. Reset values are durations such as "7.66s" or "2m59.56s".
func ParseOpenAIHeaders(headers http.Header) RateLimitInfo {
	info := ParseRetryAfter(headers)

	if info.RetryAfter == 0 {
		for _, header := range []string{"x-ratelimit-reset-tokens", "x-ratelimit-reset-requests"} {
			if d, err := time.ParseDuration(headers.Get(header)); err == nil && d > 0 {
				info.RetryAfter = d
				break
			}
		}
	}

	if remaining := headers.Get("x-ratelimit-remaining-requests"); remaining != "" {
		_, _ = fmt.Sscanf(remaining, "%d", &info.RequestsRemaining)
	}
	if remaining := headers.Get("x-ratelimit-remaining-tokens"); remaining != "" {
		_, _ = fmt.Sscanf(remaining, "%d", &info.TokensRemaining)
	}

	return info
}
