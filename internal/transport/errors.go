package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// ErrNetwork marks failures where the server was never reached.
var ErrNetwork = errors.New("failed to fetch")

// Error is a non-2xx response. Data holds the decoded body, or nil when the
// status is >= 500 or the body is not JSON.
type Error struct {
	Status     int
	StatusText string
	Data       json.RawMessage
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %v", e.Status, e.StatusText, e.Err)
	}
	return fmt.Sprintf("%d %s", e.Status, e.StatusText)
}

func (e *Error) Unwrap() error { return e.Err }

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var te *Error
	if errors.As(err, &te) {
		return te.Status
	}
	return 0
}

func IsValidation(err error) bool { return StatusOf(err) == http.StatusBadRequest }

func IsForbidden(err error) bool { return StatusOf(err) == http.StatusForbidden }

// IsNetworkError reports a connectivity failure, as opposed to a server that
// answered with an error status.
func IsNetworkError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrNetwork) {
		return true
	}
	var te *Error
	if errors.As(err, &te) {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "failed to fetch")
}

func newError(status int, body []byte) *Error {
	e := &Error{Status: status, StatusText: http.StatusText(status)}
	if status < http.StatusInternalServerError && len(body) > 0 && json.Valid(body) {
		e.Data = json.RawMessage(body)
	}
	return e
}
