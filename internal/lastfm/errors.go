package lastfm

import (
	"errors"
	"fmt"
)

// Error codes returned by the Last.fm API.
const (
	ErrCodeInvalidService    = 2
	ErrCodeInvalidMethod     = 3
	ErrCodeAuthFailed        = 4
	ErrCodeInvalidFormat     = 5
	ErrCodeNotFound          = 6
	ErrCodeInvalidSessionKey = 9
	ErrCodeInvalidAPIKey     = 10
	ErrCodeServiceOffline    = 11
	ErrCodeInvalidSignature  = 13
	ErrCodeUnauthorizedToken = 14
	ErrCodeTokenExpired      = 15
	ErrCodeTemporaryError    = 16
	ErrCodeSuspendedAPIKey   = 26
	ErrCodeRateLimitExceeded = 29
)

// ErrTransport marks failures below the API level: connection errors, timeouts and unreadable responses.
var ErrTransport = errors.New("last.fm transport failure")

// APIError is an error reported by the Last.fm API in its response envelope.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("last.fm error %d: %s", e.Code, e.Message)
}

// IsUnauthorizedToken reports whether err means the request token has not been authorized by the user yet.
func IsUnauthorizedToken(err error) bool {
	return hasCode(err, ErrCodeUnauthorizedToken)
}

// IsNotFound reports whether err means the requested entity does not exist.
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

// IsTransient reports whether the call may succeed if repeated later.
func IsTransient(err error) bool {
	if errors.Is(err, ErrTransport) {
		return true
	}
	return hasCode(err, ErrCodeServiceOffline) || hasCode(err, ErrCodeTemporaryError) ||
		hasCode(err, ErrCodeRateLimitExceeded)
}

func hasCode(err error, code int) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}
