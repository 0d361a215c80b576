package gatekeeper

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ValidationError is a request body that failed validation.
type ValidationError struct {
	Detail string
}

func (e *ValidationError) Error() string { return "invalid request: " + e.Detail }

func (e *ValidationError) StatusCode() int { return http.StatusBadRequest }

// RateLimitError is a request rejected by a limiter.
type RateLimitError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded (%s), retry after %s", e.Scope, e.RetryAfter)
}

func (e *RateLimitError) StatusCode() int { return http.StatusTooManyRequests }

// RetryAfterHeader is the Retry-After value in whole seconds.
func (e *RateLimitError) RetryAfterHeader() string {
	return strconv.FormatInt(int64(e.RetryAfter/time.Second), 10)
}

// UpstreamError wraps a failure of a collaborator (chain, store).
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) StatusCode() int { return http.StatusInternalServerError }
