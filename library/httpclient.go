package library

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultHTTPTimeout = 30 * time.Second

	headerAuthorization = "Authorization"
	headerRequestID     = "X-Request-ID"
)

// bearerTransport attaches the session token and a request id to every
// outgoing request.
type bearerTransport struct {
	base    http.RoundTripper
	session *Session
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTrippers must not modify the caller's request.
	req = req.Clone(req.Context())
	if token, ok := t.session.Token(); ok {
		req.Header.Set(headerAuthorization, "Bearer "+token)
	}
	if req.Header.Get(headerRequestID) == "" {
		req.Header.Set(headerRequestID, uuid.NewString())
	}
	return t.base.RoundTrip(req)
}

// HTTPClient is the shared request pipeline for the REST and GraphQL-over-HTTP
// endpoints.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	session *Session
	logger  *slog.Logger
}

// NewHTTPClient creates a client rooted at baseURL. A zero timeout selects the
// default.
func NewHTTPClient(baseURL string, timeout time.Duration, session *Session, logger *slog.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   timeout,
			Transport: &bearerTransport{base: http.DefaultTransport, session: session},
		},
		session: session,
		logger:  logger,
	}
}

// BaseURL returns the root all relative paths resolve against.
func (c *HTTPClient) BaseURL() string { return c.baseURL }

// Do sends a JSON request and decodes the JSON response into out (which may be
// nil). An unauthorized response ends the session before the error is
// returned, so the caller's own handling runs after the redirect.
func (c *HTTPClient) Do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	return c.do(ctx, method, path, query, body, out, true)
}

// DoPublic is Do for endpoints that do not require a session, such as login.
// A 401 there means bad credentials, not an expired session.
func (c *HTTPClient) DoPublic(ctx context.Context, method, path string, body, out any) error {
	return c.do(ctx, method, path, nil, body, out, false)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, body, out any, guarded bool) error {
	target := c.resolve(path)
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("http request", "method", method, "path", path)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrNetwork, err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
		c.logger.Debug("http error response", "method", method, "path", path, "status", resp.StatusCode)
		if guarded && isUnauthorizedStatus(resp.StatusCode) {
			c.session.Expire()
		}
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func (c *HTTPClient) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}
