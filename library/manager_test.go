package library

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLibraryManager_RequiresStore(t *testing.T) {
	_, err := NewLibraryManager(ManagerOptions{APIURL: "http://localhost:8080"})
	assert.Error(t, err)
}

func TestLibraryManager_VisitStudentsWithoutToken(t *testing.T) {
	fb := newFakeBackend(t)
	mgr := newTestManager(t, fb, nil)
	mgr.Router.Navigate(RouteStudents)

	err := mgr.Visit(context.Background(), RouteStudents)

	assert.ErrorIs(t, err, ErrNotLoggedIn)
	assert.Equal(t, RouteLogin, mgr.Router.Current())
	assert.Empty(t, fb.recorded())
}

func TestLibraryManager_VisitLoginWithToken(t *testing.T) {
	fb := newFakeBackend(t)
	store := NewMemoryTokenStore()
	require.NoError(t, store.Set("abc"))
	mgr := newTestManager(t, fb, store)
	log := recordRoutes(mgr.Router)

	require.NoError(t, mgr.Visit(context.Background(), RouteLogin))

	assert.Equal(t, []string{RouteLogin, RouteStudents}, log.all())
}

func TestLibraryManager_LoginThenStudents(t *testing.T) {
	fb := newFakeBackend(t)
	seedStudents(fb, 3)
	mgr := newTestManager(t, fb, nil)
	ctx := context.Background()

	require.NoError(t, mgr.Auth.Login(ctx, testUsername, testPassword))
	require.NoError(t, mgr.Visit(ctx, RouteStudents))

	assert.Equal(t, RouteStudents, mgr.Router.Current())
	assert.Len(t, mgr.Students.Students(), 3)
	assert.Equal(t, "Bearer abc", fb.requestsTo(http.MethodGet, "/students")[0].Authorization)
}

func TestLibraryManager_VisitBooks(t *testing.T) {
	fb := newFakeBackend(t)
	fb.setBooks(makeBooks(4))
	store := NewMemoryTokenStore()
	require.NoError(t, store.Set(signedToken(t, RoleAdmin)))
	mgr := newTestManager(t, fb, store)

	route := StudentBooksRoute(9)
	require.NoError(t, mgr.Visit(context.Background(), route))

	assert.Equal(t, route, mgr.Router.Current())
	assert.Equal(t, ID(9), mgr.Books.StudentID())
	assert.Len(t, mgr.Books.Books(), 4)
}

func TestLibraryManager_ExpiredTokenReturnsToLogin(t *testing.T) {
	fb := newFakeBackend(t)
	store := NewMemoryTokenStore()
	require.NoError(t, store.Set("stale"))
	mgr := newTestManager(t, fb, store)
	fb.setFailStatus(http.StatusUnauthorized)

	err := mgr.Visit(context.Background(), RouteStudents)

	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, "Session expired. Please log in again.", UserMessage(err))
	assert.Equal(t, RouteLogin, mgr.Router.Current())
	_, ok := store.Get()
	assert.False(t, ok)
}

func TestLibraryManager_UnknownRoute(t *testing.T) {
	fb := newFakeBackend(t)
	mgr := newTestManager(t, fb, nil)

	err := mgr.Visit(context.Background(), "/reports")

	assert.ErrorContains(t, err, "unknown route")
}

func TestLibraryManager_WithoutLiveFeed(t *testing.T) {
	fb := newFakeBackend(t)
	store := NewMemoryTokenStore()
	require.NoError(t, store.Set("abc"))
	mgr, err := NewLibraryManager(ManagerOptions{
		Store:      store,
		APIURL:     fb.srv.URL,
		GraphQLURL: fb.srv.URL + "/graphql",
		Logger:     discardLogger(),
	})
	require.NoError(t, err)
	defer mgr.Close()

	mgr.Start(context.Background())
	require.NoError(t, mgr.Visit(context.Background(), RouteStudents))
	assert.Nil(t, mgr.GraphQL().Subscriptions())
}

func TestPrettyStudent(t *testing.T) {
	line := PrettyStudent(Student{ID: 12, Name: "Ada", Email: "ada@example.com"})

	assert.True(t, strings.HasPrefix(line, "12     Ada "))
	assert.Len(t, line, 6+1+30+1+35)
}

func TestPrettyBorrowedBook(t *testing.T) {
	returned := Date{}
	require.NoError(t, returned.UnmarshalJSON([]byte(`"2024-03-01"`)))
	line := PrettyBorrowedBook(BorrowedBook{
		BorrowDate: mustDate(t, "2024-02-01"),
		DueDate:    mustDate(t, "2024-02-15"),
		ReturnDate: &returned,
		FineAmount: 10,
		Book:       Book{Title: "Dune", Author: "Frank Herbert"},
	})

	assert.Contains(t, line, "Dune")
	assert.Contains(t, line, "Frank Herbert")
	assert.Contains(t, line, "2024-02-15")
	assert.Contains(t, line, "Returned 2024-03-01")
	assert.Contains(t, line, "₹")
}

func mustDate(t *testing.T, s string) Date {
	t.Helper()
	var d Date
	require.NoError(t, d.UnmarshalJSON([]byte(`"`+s+`"`)))
	return d
}
