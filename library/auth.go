package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

const loginPath = "/auth/login"

var (
	// ErrEmptyToken is returned when the backend accepts the credentials but
	// sends no token back.
	ErrEmptyToken = errors.New("library: login response did not contain a token")
	// ErrInvalidCredentials marks a login the backend rejected.
	ErrInvalidCredentials = errors.New("library: invalid credentials")
)

// AuthService exchanges credentials for a session token.
type AuthService struct {
	client  *HTTPClient
	session *Session
	logger  *slog.Logger
}

func NewAuthService(client *HTTPClient, session *Session, logger *slog.Logger) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{client: client, session: session, logger: logger}
}

// Open is called when the login view is shown: a user who already holds a token
// goes straight to the student list. It reports whether it redirected.
func (a *AuthService) Open() bool {
	if a.session.Authenticated() {
		a.session.Navigate(RouteStudents)
		return true
	}
	return false
}

// Login posts the credentials, stores the returned token and moves to the
// student list.
func (a *AuthService) Login(ctx context.Context, username, password string) error {
	creds := Credentials{Username: strings.TrimSpace(username), Password: password}
	if err := Validate(creds); err != nil {
		return wrapError("login", err)
	}

	var resp AuthResponse
	if err := a.client.DoPublic(ctx, http.MethodPost, loginPath, creds, &resp); err != nil {
		a.logger.Error("login failed", "username", creds.Username, "error", err)
		var apiErr *APIError
		if errors.As(err, &apiErr) && isUnauthorizedStatus(apiErr.Status) {
			err = fmt.Errorf("%w: %w", ErrInvalidCredentials, apiErr)
		}
		return wrapError("login", err)
	}
	if resp.Token == "" {
		return wrapError("login", ErrEmptyToken)
	}

	if err := a.session.Begin(resp.Token); err != nil {
		return wrapError("login", err)
	}

	a.logger.Info("login successful, token saved", "username", creds.Username)
	a.session.Navigate(RouteStudents)
	return nil
}

// Logout ends the session.
func (a *AuthService) Logout() error {
	return a.session.Logout()
}
