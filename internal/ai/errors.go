package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
)

// ErrorType classifies reasoning-backend failures for retry eligibility
type ErrorType int

const (
	// ErrorUnknown is an unclassified failure. Treated as transient.
	ErrorUnknown ErrorType = iota
	// ErrorTransient covers 5xx, overload and connection failures
	ErrorTransient
	// ErrorTimeout is a per-call deadline or network timeout
	ErrorTimeout
	// ErrorRateLimit is a 429 / quota response
	ErrorRateLimit
	// ErrorMalformed means the backend answered but the answer was unusable
	ErrorMalformed
	// ErrorAuth is a 401/403. Retrying cannot fix a bad credential.
	ErrorAuth
	// ErrorInvalid is a 4xx rejection of the request itself
	ErrorInvalid
)

func (t ErrorType) String() string {
	switch t {
	case ErrorUnknown:
		return "UNKNOWN"
	case ErrorTransient:
		return "TRANSIENT"
	case ErrorTimeout:
		return "TIMEOUT"
	case ErrorRateLimit:
		return "RATE_LIMIT"
	case ErrorMalformed:
		return "MALFORMED"
	case ErrorAuth:
		return "AUTH"
	case ErrorInvalid:
		return "INVALID"
	default:
		return "UNKNOWN"
	}
}

// Retriable reports whether a job that failed with this error type may be retried.
func (t ErrorType) Retriable() bool {
	return t != ErrorAuth && t != ErrorInvalid
}

// ErrMalformedResponse is returned when the backend response cannot be used
// (unparseable JSON, missing fields, confidence far outside [0,1]).
var ErrMalformedResponse = errors.New("malformed reasoning response")

// BackendError is a classified reasoning-backend failure
type BackendError struct {
	Op         string
	Type       ErrorType
	RetryAfter time.Duration // Server-requested wait, 0 if none
	Err        error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", e.Op, e.Type, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// NewBackendError classifies err and wraps it
func NewBackendError(op string, err error) *BackendError {
	errType, wait := ClassifyError(err)
	return &BackendError{Op: op, Type: errType, RetryAfter: wait, Err: err}
}

// Malformed wraps a validation failure of a backend response
func Malformed(op string, format string, args ...interface{}) *BackendError {
	return &BackendError{
		Op:   op,
		Type: ErrorMalformed,
		Err:  fmt.Errorf("%w: %s", ErrMalformedResponse, fmt.Sprintf(format, args...)),
	}
}

// IsRetriable reports whether a job failure caused by err may be retried.
// Errors that are not backend errors (persistence, circuit breaker) are retriable.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	errType, _ := ClassifyError(err)
	return errType.Retriable()
}

// ClassifyError determines the error type and any server-requested wait.
// A BackendError anywhere in the chain wins, then typed SDK errors, then
// message heuristics for errors that lost their type on the way.
func ClassifyError(err error) (ErrorType, time.Duration) {
	if err == nil {
		return ErrorUnknown, 0
	}

	var backendErr *BackendError
	if errors.As(err, &backendErr) {
		return backendErr.Type, backendErr.RetryAfter
	}

	if errors.Is(err, ErrMalformedResponse) {
		return ErrorMalformed, 0
	}
	if errors.Is(err, ErrCircuitOpen) {
		return ErrorTransient, 0
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTimeout, 0
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.StatusCode), parseRetryAfter(apiErr)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorTimeout, 0
		}
		return ErrorTransient, 0
	}

	return classifyMessage(err.Error())
}

func classifyStatus(code int) ErrorType {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrorAuth
	case code == http.StatusTooManyRequests:
		return ErrorRateLimit
	case code == http.StatusRequestTimeout:
		return ErrorTimeout
	case code >= 500:
		// Includes 529 overloaded
		return ErrorTransient
	case code >= 400:
		return ErrorInvalid
	default:
		return ErrorUnknown
	}
}

func classifyMessage(msg string) (ErrorType, time.Duration) {
	errStr := strings.ToLower(msg)

	if strings.Contains(errStr, "401") || strings.Contains(errStr, "403") ||
		strings.Contains(errStr, "unauthorized") || strings.Contains(errStr, "forbidden") ||
		strings.Contains(errStr, "authentication_error") || strings.Contains(errStr, "permission_error") ||
		strings.Contains(errStr, "invalid x-api-key") {
		return ErrorAuth, 0
	}

	if strings.Contains(errStr, "429") || strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "rate_limit") || strings.Contains(errStr, "quota") {
		return ErrorRateLimit, parseRetryAfterFromMessage(errStr)
	}

	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded") {
		return ErrorTimeout, 0
	}

	if strings.Contains(errStr, "500") || strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") || strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "529") || strings.Contains(errStr, "overloaded") ||
		strings.Contains(errStr, "internal server error") ||
		strings.Contains(errStr, "bad gateway") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "temporary failure") ||
		strings.Contains(errStr, "network") {
		return ErrorTransient, 0
	}

	if strings.Contains(errStr, "400") || strings.Contains(errStr, "404") ||
		strings.Contains(errStr, "invalid_request_error") {
		return ErrorInvalid, 0
	}

	return ErrorUnknown, 0
}

// parseRetryAfter reads Retry-After (seconds or HTTP date) from an SDK error response
func parseRetryAfter(apiErr *anthropic.Error) time.Duration {
	if apiErr.Response == nil {
		return 0
	}
	val := apiErr.Response.Header.Get("Retry-After")
	if val == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(val)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(val); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

var (
	retryAfterInRegex    = regexp.MustCompile(`(?:try again in|wait)\s+(\d+)\s*(second|minute|hour)s?`)
	retryAfterFieldRegex = regexp.MustCompile(`retry[_-]after"?\s*[:=]?\s*(\d+)`)
)

// parseRetryAfterFromMessage extracts a wait hint from an error message
func parseRetryAfterFromMessage(msg string) time.Duration {
	msg = strings.ToLower(msg)

	if m := retryAfterInRegex.FindStringSubmatch(msg); m != nil {
		n, _ := strconv.Atoi(m[1])
		switch m[2] {
		case "hour":
			return time.Duration(n) * time.Hour
		case "minute":
			return time.Duration(n) * time.Minute
		default:
			return time.Duration(n) * time.Second
		}
	}

	if m := retryAfterFieldRegex.FindStringSubmatch(msg); m != nil {
		n, _ := strconv.Atoi(m[1])
		return time.Duration(n) * time.Second
	}

	return 0
}
