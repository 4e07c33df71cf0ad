package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ManagerOptions configures a LibraryManager.
type ManagerOptions struct {
	Store           TokenStore
	APIURL          string
	GraphQLURL      string
	WSURL           string // empty disables the live feed
	HTTPTimeout     time.Duration
	Subscription    SubscriptionOptions
	StudentPageSize int
	BooksPageSize   int
	CacheBytes      int64
	Logger          *slog.Logger
}

// LibraryManager wires the session, the clients and the views together so the
// CLI only deals with one value.
type LibraryManager struct {
	Router   *Router
	Session  *Session
	Auth     *AuthService
	Students *StudentView
	Feed     *LiveFeed
	Books    *BooksView

	service *StudentService
	gql     *GraphQLClient
	logger  *slog.Logger
}

// NewLibraryManager builds every component around one session. The token store
// is owned by the caller.
func NewLibraryManager(opts ManagerOptions) (*LibraryManager, error) {
	if opts.Store == nil {
		return nil, errors.New("library: token store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router := NewRouter(RouteLogin)
	session := NewSession(opts.Store, router, logger)
	httpClient := NewHTTPClient(opts.APIURL, opts.HTTPTimeout, session, logger)

	cache, err := NewNormalizedCache(opts.CacheBytes)
	if err != nil {
		return nil, err
	}
	var ws *SubscriptionClient
	if opts.WSURL != "" {
		ws = NewSubscriptionClient(opts.WSURL, session, opts.Subscription, logger)
	}
	gql := NewGraphQLClient(httpClient, opts.GraphQLURL, ws, cache, logger)

	service := NewStudentService(httpClient)
	students := NewStudentView(service, session, opts.StudentPageSize, logger)

	return &LibraryManager{
		Router:   router,
		Session:  session,
		Auth:     NewAuthService(httpClient, session, logger),
		Students: students,
		Feed:     NewLiveFeed(gql, students, logger),
		Books:    NewBooksView(gql, opts.BooksPageSize, logger),
		service:  service,
		gql:      gql,
		logger:   logger,
	}, nil
}

// StudentService exposes the REST client for bulk operations.
func (lm *LibraryManager) StudentService() *StudentService { return lm.service }

// GraphQL exposes the GraphQL client.
func (lm *LibraryManager) GraphQL() *GraphQLClient { return lm.gql }

// Start opens the subscription connection without waiting for a subscriber.
func (lm *LibraryManager) Start(ctx context.Context) {
	if ws := lm.gql.Subscriptions(); ws != nil {
		ws.Start(ctx)
	}
}

// Close stops the live feed and the subscription connection.
func (lm *LibraryManager) Close() error {
	var errs []error
	if err := lm.Feed.Stop(); err != nil {
		errs = append(errs, err)
	}
	if ws := lm.gql.Subscriptions(); ws != nil {
		if err := ws.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if cache := lm.gql.Cache(); cache != nil {
		cache.Close()
	}
	return errors.Join(errs...)
}

// Visit navigates to route and loads its view. Protected routes go through the
// session gate, which redirects to the login view when no token is held.
func (lm *LibraryManager) Visit(ctx context.Context, route string) error {
	switch {
	case route == RouteLogin:
		lm.Router.Navigate(RouteLogin)
		lm.Auth.Open()
		return nil

	case route == RouteStudents:
		return lm.Session.Gate(func() error {
			lm.Router.Navigate(RouteStudents)
			if lm.gql.Subscriptions() != nil {
				// Feed failures are logged; the list stays usable without it.
				_ = lm.Feed.Start()
			}
			err := lm.Students.Refresh(ctx)
			if errors.Is(err, ErrUnauthorized) {
				_ = lm.Feed.Stop()
			}
			return err
		})

	default:
		id, ok := ParseStudentBooksRoute(route)
		if !ok {
			return fmt.Errorf("library: unknown route %q", route)
		}
		return lm.Session.Gate(func() error {
			lm.Router.Navigate(route)
			return lm.Books.Open(ctx, id)
		})
	}
}

// ------------------ Utilities ------------------

// PrettyStudent formats a student for lists.
func PrettyStudent(s Student) string {
	return fmt.Sprintf("%-6s %-30s %-35s", s.ID, s.Name, s.Email)
}

// PrettyBorrowedBook formats a loan for lists.
func PrettyBorrowedBook(b BorrowedBook) string {
	return fmt.Sprintf("%-30s %-20s %-11s %-11s %-22s %s",
		b.Book.Title, b.Book.Author, b.BorrowDate, b.DueDate, ReturnLabel(b), FormatFine(b.FineAmount))
}
