package divar

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound means the listing was removed before it could be fetched.
	ErrNotFound = errors.New("divar: listing not found")
	// ErrAccessDenied covers 401/403/429: the current identity is blocked,
	// expired or rate limited.
	ErrAccessDenied = errors.New("divar: access denied")
	// ErrCaptcha is a successful response carrying a CAPTCHA challenge
	// instead of data. It is a form of access denial.
	ErrCaptcha = fmt.Errorf("%w: captcha challenge", ErrAccessDenied)
	// ErrInvalidToken rejects a token that is not safe to put in a request
	// path.
	ErrInvalidToken = errors.New("divar: invalid listing token")
)

// StatusError reports a non-2xx response.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("divar: %s returned %d: %s", e.Op, e.Code, e.Body)
	}
	return fmt.Sprintf("divar: %s returned %d", e.Op, e.Code)
}

// Unwrap maps status codes onto the package sentinels so callers can use
// errors.Is(err, ErrNotFound) and friends.
func (e *StatusError) Unwrap() error {
	switch e.Code {
	case http.StatusNotFound, http.StatusGone:
		return ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests:
		return ErrAccessDenied
	}
	return nil
}

// StatusCode extracts the HTTP status from err, or 0. CAPTCHA challenges
// report 403.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	if errors.Is(err, ErrCaptcha) {
		return http.StatusForbidden
	}
	return 0
}

// IsTransient reports whether err is worth retrying on a later pass: 5xx and
// transport failures, as opposed to not-found, access-denied or a malformed
// token.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrAccessDenied) || errors.Is(err, ErrInvalidToken) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	return true
}
