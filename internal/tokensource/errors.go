package tokensource

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrRefreshRejected marks a refresh the server refused (expired, revoked or
// malformed refresh token), as opposed to a transient failure.
var ErrRefreshRejected = errors.New("refresh token rejected")

// RefreshError captures an unexpected status from the refresh endpoint.
type RefreshError struct {
	StatusCode int
	Body       []byte
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("refresh endpoint returned status %d: %s", e.StatusCode, string(e.Body))
}

// Is makes errors.Is(err, ErrRefreshRejected) true for client-error statuses.
func (e *RefreshError) Is(target error) bool {
	return target == ErrRefreshRejected && rejectedStatus(e.StatusCode)
}

func rejectedStatus(status int) bool {
	switch status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	return false
}
