package library

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Routes of the client's views.
const (
	RouteLogin    = "/login"
	RouteStudents = "/students"
)

// StudentBooksRoute returns the borrowed-books route of a student.
func StudentBooksRoute(id ID) string {
	return fmt.Sprintf("/students/%d/books", id)
}

// ParseStudentBooksRoute extracts the student id from a borrowed-books route.
func ParseStudentBooksRoute(route string) (ID, bool) {
	rest, ok := strings.CutPrefix(route, RouteStudents+"/")
	if !ok {
		return 0, false
	}
	idPart, ok := strings.CutSuffix(rest, "/books")
	if !ok {
		return 0, false
	}
	id, err := ParseID(idPart)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Navigator moves the user to another view.
type Navigator interface {
	Navigate(route string)
}

// Router is a Navigator that remembers the current route and tells
// subscribers about every change.
type Router struct {
	mu        sync.Mutex
	current   string
	listeners []func(route string)
}

func NewRouter(initial string) *Router {
	return &Router{current: initial}
}

func (r *Router) Navigate(route string) {
	r.mu.Lock()
	r.current = route
	listeners := append([]func(string){}, r.listeners...)
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(route)
	}
}

// Current returns the active route.
func (r *Router) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// OnNavigate registers fn to run after every navigation.
func (r *Router) OnNavigate(fn func(route string)) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Session is the authentication state every component depends on. It is passed
// explicitly rather than read from ambient storage, so the token's readers and
// writers are visible in each constructor.
type Session struct {
	store  TokenStore
	nav    Navigator
	logger *slog.Logger
}

func NewSession(store TokenStore, nav Navigator, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{store: store, nav: nav, logger: logger}
}

// Token returns the current bearer token.
func (s *Session) Token() (string, bool) {
	return s.store.Get()
}

// Authenticated reports whether a token is present. Nothing about the token is
// checked; an expired token is discovered when the backend rejects it.
func (s *Session) Authenticated() bool {
	_, ok := s.store.Get()
	return ok
}

// IsAdmin reads the role claim of the current token for display purposes.
func (s *Session) IsAdmin() bool {
	token, _ := s.store.Get()
	return IsAdminToken(token)
}

// Begin stores a freshly issued token.
func (s *Session) Begin(token string) error {
	return s.store.Set(token)
}

// Logout clears the token and returns to the login view.
func (s *Session) Logout() error {
	if err := s.store.Clear(); err != nil {
		return err
	}
	s.nav.Navigate(RouteLogin)
	return nil
}

// Expire handles a rejected session: the token is dropped and the user is sent
// to the login view.
func (s *Session) Expire() {
	s.logger.Warn("token expired or unauthorized, redirecting to login")
	if err := s.store.Clear(); err != nil {
		s.logger.Error("failed to clear token", "error", err)
	}
	s.nav.Navigate(RouteLogin)
}

// Navigate forwards to the session's navigator.
func (s *Session) Navigate(route string) {
	s.nav.Navigate(route)
}

// Gate runs view only when a token is present; otherwise it redirects to the
// login view and returns ErrNotLoggedIn.
func (s *Session) Gate(view func() error) error {
	if !s.Authenticated() {
		s.nav.Navigate(RouteLogin)
		return ErrNotLoggedIn
	}
	return view()
}
