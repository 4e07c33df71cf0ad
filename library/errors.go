package library

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors for client operations.
var (
	ErrNetwork      = errors.New("library: no response from server")
	ErrServer       = errors.New("library: request rejected by server")
	ErrUnauthorized = errors.New("library: unauthorized")
	ErrSubscription = errors.New("library: subscription transport failed")
	ErrValidation   = errors.New("library: validation failed")
	ErrNotLoggedIn  = errors.New("library: not logged in")
)

// APIError is an error response received from the backend. Body holds the raw
// response text, which usually carries the server's own explanation.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.Status)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}

// Is lets errors.Is match an APIError against the status-class sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrServer:
		return true
	case ErrUnauthorized:
		return isUnauthorizedStatus(e.Status)
	}
	return false
}

// Message returns the text worth showing to a user.
func (e *APIError) Message() string {
	if msg := strings.TrimSpace(e.Body); msg != "" {
		return msg
	}
	return http.StatusText(e.Status)
}

func isUnauthorizedStatus(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

// Error wraps an underlying error with operation context.
type Error struct {
	Op  string // "login", "listStudents", "borrowedBooks", ...
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// UserMessage maps an error to the one-line text shown to the user. Errors
// outside the client's own set are shown as they are.
func UserMessage(err error) string {
	var apiErr *APIError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials):
		if errors.As(err, &apiErr) && apiErr.Body != "" {
			return apiErr.Body
		}
		return "Invalid username or password"
	case errors.Is(err, ErrUnauthorized):
		return "Session expired. Please log in again."
	case errors.Is(err, ErrNotLoggedIn):
		return "Not logged in. Please log in first."
	case errors.Is(err, ErrEmptyToken):
		return "Login failed: the server did not return a token."
	case errors.As(err, &apiErr):
		return apiErr.Message()
	case errors.Is(err, ErrNetwork):
		return "No response from server"
	case errors.Is(err, ErrValidation):
		return validationMessage(err)
	case errors.Is(err, ErrSubscription):
		return "Live updates are unavailable."
	default:
		return strings.TrimPrefix(err.Error(), "library: ")
	}
}

func validationMessage(err error) string {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return "Invalid input: " + verr.Error()
	}
	return strings.TrimPrefix(err.Error(), "library: ")
}
