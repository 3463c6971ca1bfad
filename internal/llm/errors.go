package llm

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// RateLimitError is returned after the rate-limit retry budget is exhausted
type RateLimitError struct {
	Attempts  int
	LastDelay time.Duration
	Err       error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded after %d attempts (last wait %s): %v", e.Attempts, e.LastDelay, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// TransientError is returned after exponential-backoff retries of a server
// error are exhausted
type TransientError struct {
	Attempts int
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("server error after %d attempts: %v", e.Attempts, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// NonRetryableError wraps an API error that is surfaced immediately
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("api error: %v", e.Err)
}

func (e *NonRetryableError) Unwrap() error { return e.Err }

// errorClass is the retry classification of a provider error
type errorClass int

const (
	classNonRetryable errorClass = iota
	classRateLimit
	classTransient
)

// classifyError buckets a provider error by its message text. Provider SDKs
// flatten HTTP status into the error string, so text matching is the common
// denominator across backends.
func classifyError(err error) errorClass {
	if err == nil {
		return classNonRetryable
	}
	text := strings.ToLower(err.Error())

	if strings.Contains(text, "429") || strings.Contains(text, "quota") || strings.Contains(text, "rate") {
		return classRateLimit
	}
	if strings.Contains(text, "503") || strings.Contains(text, "502") || strings.Contains(text, "server") {
		return classTransient
	}
	return classNonRetryable
}

var retryDelayPattern = regexp.MustCompile(`seconds: (\d+)`)

// parseRetryDelay extracts an embedded retry-delay hint from a rate-limit
// error, falling back to the given default.
func parseRetryDelay(err error, fallback time.Duration) time.Duration {
	if err == nil {
		return fallback
	}
	m := retryDelayPattern.FindStringSubmatch(err.Error())
	if len(m) < 2 {
		return fallback
	}
	secs, convErr := strconv.Atoi(m[1])
	if convErr != nil || secs <= 0 {
		return fallback
	}
	return time.Duration(secs) * time.Second
}
