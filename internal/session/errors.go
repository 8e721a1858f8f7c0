package session

import (
	"errors"
	"fmt"
)

// ErrSessionExpired is the umbrella for every failure that ends the session.
// Callers should send the user to log in again.
var ErrSessionExpired = errors.New("session expired")

// ErrNoRefreshToken is returned when an access token was rejected and no
// refresh token is stored. No refresh call is made.
var ErrNoRefreshToken = fmt.Errorf("%w: no refresh token", ErrSessionExpired)

// RefreshFailedError is returned to every request waiting on a refresh call
// that failed.
type RefreshFailedError struct {
	Err error
}

func (e *RefreshFailedError) Error() string {
	return fmt.Sprintf("%v: refresh failed: %v", ErrSessionExpired, e.Err)
}

// Unwrap exposes both ErrSessionExpired and the refresh cause to errors.Is/As.
func (e *RefreshFailedError) Unwrap() []error {
	return []error{ErrSessionExpired, e.Err}
}
