package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
)

func sdkError(status int, header http.Header) *anthropic.Error {
	if header == nil {
		header = http.Header{}
	}
	u, _ := url.Parse("https://api.anthropic.com/v1/messages")
	return &anthropic.Error{
		StatusCode: status,
		Request:    &http.Request{Method: http.MethodPost, URL: u},
		Response:   &http.Response{StatusCode: status, Header: header},
	}
}

func TestClassifyErrorWithSDKError(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		expectedType ErrorType
		retriable    bool
	}{
		{"401 unauthorized", http.StatusUnauthorized, ErrorAuth, false},
		{"403 forbidden", http.StatusForbidden, ErrorAuth, false},
		{"429 rate limit", http.StatusTooManyRequests, ErrorRateLimit, true},
		{"408 timeout", http.StatusRequestTimeout, ErrorTimeout, true},
		{"500 internal", http.StatusInternalServerError, ErrorTransient, true},
		{"503 unavailable", http.StatusServiceUnavailable, ErrorTransient, true},
		{"529 overloaded", 529, ErrorTransient, true},
		{"400 bad request", http.StatusBadRequest, ErrorInvalid, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := fmt.Errorf("categorize: %w", sdkError(tt.status, nil))
			errType, _ := ClassifyError(err)
			assert.Equal(t, tt.expectedType, errType)
			assert.Equal(t, tt.retriable, IsRetriable(err))
		})
	}
}

func TestClassifyErrorRetryAfterHeader(t *testing.T) {
	header := http.Header{}
	header.Set("Retry-After", "42")

	errType, wait := ClassifyError(sdkError(http.StatusTooManyRequests, header))
	assert.Equal(t, ErrorRateLimit, errType)
	assert.Equal(t, 42*time.Second, wait)
}

func TestClassifyErrorFallbacks(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		expectedType ErrorType
	}{
		{"nil", nil, ErrorUnknown},
		{"generic", errors.New("something went wrong"), ErrorUnknown},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), ErrorTimeout},
		{"circuit open", fmt.Errorf("blocked: %w", ErrCircuitOpen), ErrorTransient},
		{"malformed sentinel", fmt.Errorf("x: %w", ErrMalformedResponse), ErrorMalformed},
		{"auth message", errors.New("401 Unauthorized: invalid x-api-key"), ErrorAuth},
		{"rate limit message", errors.New("rate limit exceeded"), ErrorRateLimit},
		{"server message", errors.New("HTTP 502 bad gateway"), ErrorTransient},
		{"connection refused", errors.New("dial tcp: connection refused"), ErrorTransient},
		{"timeout message", errors.New("i/o timeout"), ErrorTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errType, _ := ClassifyError(tt.err)
			assert.Equal(t, tt.expectedType, errType)
		})
	}
}

func TestBackendErrorWins(t *testing.T) {
	// A malformed-response wrapper around an error whose message looks like an auth failure
	err := Malformed("categorize", "response mentions 401 in prose")
	errType, _ := ClassifyError(fmt.Errorf("job: %w", err))
	assert.Equal(t, ErrorMalformed, errType)
	assert.True(t, errors.Is(err, ErrMalformedResponse))
	assert.True(t, IsRetriable(err))
	assert.False(t, IsRetriable(nil))
}

func TestUnknownErrorsAreRetriable(t *testing.T) {
	assert.True(t, IsRetriable(errors.New("database is locked")))
}

func TestParseRetryAfterFromMessage(t *testing.T) {
	tests := []struct {
		message  string
		expected time.Duration
	}{
		{"rate limit exceeded, try again in 12 minutes", 12 * time.Minute},
		{"quota exceeded, wait 30 seconds", 30 * time.Second},
		{"Try Again In 2 Hours", 2 * time.Hour},
		{`{"error": "rate_limit_error", "retry_after": 600}`, 600 * time.Second},
		{"unknown error format", 0},
		{"", 0},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseRetryAfterFromMessage(tt.message))
		})
	}
}

func TestErrorTypeString(t *testing.T) {
	assert.Equal(t, "AUTH", ErrorAuth.String())
	assert.Equal(t, "MALFORMED", ErrorMalformed.String())
	assert.Equal(t, "RATE_LIMIT", ErrorRateLimit.String())
	assert.Equal(t, "UNKNOWN", ErrorType(99).String())
}
