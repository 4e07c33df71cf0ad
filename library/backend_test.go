package library

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"
)

const (
	testUsername = "admin"
	testPassword = "secret"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// signedToken returns an HS256 token carrying role.
func signedToken(t *testing.T, role string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   testUsername,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("test-signing-key"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

type recordedRequest struct {
	Method        string
	Path          string
	Query         url.Values
	Authorization string
	RequestID     string
}

// wsSession is one accepted WebSocket connection on the fake backend.
type wsSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
	subs []string
}

func (s *wsSession) write(msg wsMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(msg)
}

// fakeBackend serves the REST, GraphQL and subscription endpoints the client
// talks to, recording every request.
type fakeBackend struct {
	t   *testing.T
	srv *httptest.Server

	mu           sync.Mutex
	passwordHash []byte
	token        string
	students     []Student
	nextID       ID
	books        []map[string]any
	requests     []recordedRequest
	graphql      []GraphQLRequest
	failStatus   int
	beforeList   func(q url.Values)
	refuseWS     bool
	initPayloads []string
	duplicates   int
	sessions     []*wsSession

	connected  chan struct{}
	subscribed chan string
	completed  chan string
	pongs      chan struct{}
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}

	fb := &fakeBackend{
		t:            t,
		passwordHash: hash,
		token:        "abc",
		nextID:       100,
		connected:    make(chan struct{}, 16),
		subscribed:   make(chan string, 64),
		completed:    make(chan string, 16),
		pongs:        make(chan struct{}, 16),
	}

	r := chi.NewRouter()
	r.Use(fb.record)
	r.Post("/auth/login", fb.login)
	r.Route("/students", func(r chi.Router) {
		r.Use(fb.forcedFailure)
		r.Get("/", fb.listStudents)
		r.Post("/", fb.createStudent)
		r.Get("/{id}", fb.getStudent)
		r.Put("/{id}", fb.updateStudent)
		r.Delete("/{id}", fb.deleteStudent)
	})
	r.With(fb.forcedFailure).Post("/graphql", fb.serveGraphQL)
	r.Get("/graphql", fb.serveWS)

	fb.srv = httptest.NewServer(r)
	t.Cleanup(fb.close)
	return fb
}

func (fb *fakeBackend) close() {
	fb.dropConnections()
	fb.srv.Close()
}

func (fb *fakeBackend) wsURL() string {
	return "ws" + strings.TrimPrefix(fb.srv.URL, "http") + "/graphql"
}

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

func (fb *fakeBackend) setStudents(students ...Student) {
	fb.mu.Lock()
	fb.students = students
	fb.mu.Unlock()
}

func (fb *fakeBackend) setBooks(books []map[string]any) {
	fb.mu.Lock()
	fb.books = books
	fb.mu.Unlock()
}

func (fb *fakeBackend) setBeforeList(hook func(q url.Values)) {
	fb.mu.Lock()
	fb.beforeList = hook
	fb.mu.Unlock()
}

func (fb *fakeBackend) setFailStatus(status int) {
	fb.mu.Lock()
	fb.failStatus = status
	fb.mu.Unlock()
}

func (fb *fakeBackend) recorded() []recordedRequest {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return slices.Clone(fb.requests)
}

// requestsTo returns the recorded requests matching method and path.
func (fb *fakeBackend) requestsTo(method, path string) []recordedRequest {
	var out []recordedRequest
	for _, req := range fb.recorded() {
		if req.Method == method && req.Path == path {
			out = append(out, req)
		}
	}
	return out
}

func (fb *fakeBackend) lastRequest() recordedRequest {
	reqs := fb.recorded()
	if len(reqs) == 0 {
		fb.t.Fatal("no requests recorded")
	}
	return reqs[len(reqs)-1]
}

func (fb *fakeBackend) graphQLRequests() []GraphQLRequest {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return slices.Clone(fb.graphql)
}

// push sends a studentAdded event to every active subscription.
func (fb *fakeBackend) push(s Student) {
	payload, _ := json.Marshal(map[string]any{
		"data": map[string]any{
			"studentAdded": map[string]any{
				"__typename": "Student",
				"id":         s.ID.String(),
				"name":       s.Name,
				"email":      s.Email,
			},
		},
	})

	fb.mu.Lock()
	sessions := slices.Clone(fb.sessions)
	fb.mu.Unlock()
	for _, sess := range sessions {
		sess.mu.Lock()
		subs := slices.Clone(sess.subs)
		sess.mu.Unlock()
		for _, id := range subs {
			_ = sess.write(wsMessage{ID: id, Type: msgNext, Payload: payload})
		}
	}
}

// sendAll writes msg to every open connection.
func (fb *fakeBackend) sendAll(msg wsMessage) {
	fb.mu.Lock()
	sessions := slices.Clone(fb.sessions)
	fb.mu.Unlock()
	for _, sess := range sessions {
		_ = sess.write(msg)
	}
}

func (fb *fakeBackend) dropConnections() {
	fb.mu.Lock()
	sessions := fb.sessions
	fb.sessions = nil
	fb.mu.Unlock()
	for _, sess := range sessions {
		sess.conn.Close()
	}
}

func notify[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}

func waitFor[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		var zero T
		return zero
	}
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (fb *fakeBackend) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fb.mu.Lock()
		fb.requests = append(fb.requests, recordedRequest{
			Method:        r.Method,
			Path:          r.URL.Path,
			Query:         r.URL.Query(),
			Authorization: r.Header.Get("Authorization"),
			RequestID:     r.Header.Get("X-Request-ID"),
		})
		fb.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (fb *fakeBackend) forcedFailure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fb.mu.Lock()
		status := fb.failStatus
		fb.mu.Unlock()
		if status != 0 {
			http.Error(w, "forced failure", status)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (fb *fakeBackend) login(w http.ResponseWriter, r *http.Request) {
	var creds Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	fb.mu.Lock()
	hash, token := fb.passwordHash, fb.token
	fb.mu.Unlock()

	if creds.Username != testUsername || bcrypt.CompareHashAndPassword(hash, []byte(creds.Password)) != nil {
		http.Error(w, "Invalid username or password", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, AuthResponse{Token: token})
}

func (fb *fakeBackend) listStudents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	fb.mu.Lock()
	hook := fb.beforeList
	fb.mu.Unlock()
	if hook != nil {
		hook(q)
	}

	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("size"))
	if size <= 0 {
		size = 10
	}

	fb.mu.Lock()
	var matched []Student
	for _, s := range fb.students {
		if s.MatchesFilter(q.Get("nameFilter")) {
			matched = append(matched, s)
		}
	}
	fb.mu.Unlock()
	if q.Get("sort") == SortByNameAsc {
		slices.SortStableFunc(matched, func(a, b Student) int { return strings.Compare(a.Name, b.Name) })
	}

	start := min(page*size, len(matched))
	end := min(start+size, len(matched))
	writeJSON(w, http.StatusOK, Page[Student]{
		Content:       matched[start:end],
		TotalPages:    (len(matched) + size - 1) / size,
		TotalElements: len(matched),
		Number:        page,
		Size:          size,
	})
}

func (fb *fakeBackend) createStudent(w http.ResponseWriter, r *http.Request) {
	var s Student
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	fb.mu.Lock()
	fb.nextID++
	s.ID = fb.nextID
	fb.students = append(fb.students, s)
	fb.mu.Unlock()
	writeJSON(w, http.StatusCreated, s)
}

func (fb *fakeBackend) findStudent(r *http.Request) (int, ID, bool) {
	id, err := ParseID(chi.URLParam(r, "id"))
	if err != nil {
		return -1, 0, false
	}
	idx := slices.IndexFunc(fb.students, func(s Student) bool { return s.ID == id })
	return idx, id, idx >= 0
}

func (fb *fakeBackend) getStudent(w http.ResponseWriter, r *http.Request) {
	fb.mu.Lock()
	idx, _, ok := fb.findStudent(r)
	var s Student
	if ok {
		s = fb.students[idx]
	}
	fb.mu.Unlock()
	if !ok {
		http.Error(w, "Student not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (fb *fakeBackend) updateStudent(w http.ResponseWriter, r *http.Request) {
	var s Student
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	fb.mu.Lock()
	idx, id, ok := fb.findStudent(r)
	if ok {
		s.ID = id
		fb.students[idx] = s
	}
	fb.mu.Unlock()
	if !ok {
		http.Error(w, "Student not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (fb *fakeBackend) deleteStudent(w http.ResponseWriter, r *http.Request) {
	fb.mu.Lock()
	idx, _, ok := fb.findStudent(r)
	if ok {
		fb.students = slices.Delete(fb.students, idx, idx+1)
	}
	fb.mu.Unlock()
	if !ok {
		http.Error(w, "Student not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// makeBooks builds n loan records as the GraphQL endpoint serializes them. Odd
// records are returned.
func makeBooks(n int) []map[string]any {
	books := make([]map[string]any, n)
	for i := range n {
		var returned any
		if i%2 == 1 {
			returned = "2024-02-10"
		}
		books[i] = map[string]any{
			"__typename": "BorrowedBook",
			"id":         strconv.Itoa(i + 1),
			"borrowDate": "2024-01-01",
			"dueDate":    "2024-01-15",
			"returnDate": returned,
			"fineAmount": float64(i) * 2.5,
			"book": map[string]any{
				"__typename": "Book",
				"title":      "Book " + strconv.Itoa(i+1),
				"author":     "Author " + strconv.Itoa(i+1),
			},
		}
	}
	return books
}

func (fb *fakeBackend) serveGraphQL(w http.ResponseWriter, r *http.Request) {
	var req GraphQLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	fb.mu.Lock()
	fb.graphql = append(fb.graphql, req)
	books := fb.books
	fb.mu.Unlock()

	switch {
	case strings.Contains(req.Query, "borrowedBooksByStudent"):
		page := intVar(req.Variables["page"])
		size := intVar(req.Variables["size"])
		if size <= 0 {
			size = 5
		}
		start := min(page*size, len(books))
		end := min(start+size, len(books))
		writeJSON(w, http.StatusOK, map[string]any{
			"data": map[string]any{
				"borrowedBooksByStudent": map[string]any{
					"__typename": "BorrowedBookPage",
					"content":    books[start:end],
					"totalPages": (len(books) + size - 1) / size,
					"number":     page,
				},
			},
		})
	case strings.Contains(req.Query, "borrowedBook("):
		var found any
		for _, b := range books {
			if b["id"] == req.Variables["id"] {
				found = b
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"data": map[string]any{"borrowedBook": found},
		})
	case strings.Contains(req.Query, "student("):
		writeJSON(w, http.StatusOK, map[string]any{
			"data": map[string]any{
				"student": map[string]any{"__typename": "Student", "id": "7", "name": "Grace", "email": "grace@example.com"},
			},
		})
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"errors": []map[string]any{{"message": "Cannot query field on type Query"}},
		})
	}
}

func intVar(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case string:
		i, _ := strconv.Atoi(n)
		return i
	}
	return 0
}

var testUpgrader = websocket.Upgrader{
	Subprotocols: []string{graphQLTransportWS},
	CheckOrigin:  func(*http.Request) bool { return true },
}

func (fb *fakeBackend) serveWS(w http.ResponseWriter, r *http.Request) {
	fb.mu.Lock()
	refuse := fb.refuseWS
	fb.mu.Unlock()
	if refuse {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := testUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var init wsMessage
	if err := conn.ReadJSON(&init); err != nil || init.Type != msgConnectionInit {
		return
	}
	sess := &wsSession{conn: conn}
	if err := sess.write(wsMessage{Type: msgConnectionAck}); err != nil {
		return
	}

	fb.mu.Lock()
	fb.initPayloads = append(fb.initPayloads, string(init.Payload))
	fb.sessions = append(fb.sessions, sess)
	fb.mu.Unlock()
	notify(fb.connected, struct{}{})

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case msgSubscribe:
			sess.mu.Lock()
			duplicate := slices.Contains(sess.subs, msg.ID)
			if !duplicate {
				sess.subs = append(sess.subs, msg.ID)
			}
			sess.mu.Unlock()
			if duplicate {
				fb.mu.Lock()
				fb.duplicates++
				fb.mu.Unlock()
				// graphql-transport-ws: a reused id closes the socket.
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(4409, "Subscriber for "+msg.ID+" already exists"),
					time.Now().Add(time.Second))
				return
			}
			notify(fb.subscribed, msg.ID)
		case msgComplete:
			sess.mu.Lock()
			sess.subs = slices.DeleteFunc(sess.subs, func(id string) bool { return id == msg.ID })
			sess.mu.Unlock()
			notify(fb.completed, msg.ID)
		case msgPong:
			notify(fb.pongs, struct{}{})
		}
	}
}

// ---------------------------------------------------------------------------
// Client fixtures
// ---------------------------------------------------------------------------

// testClient bundles a session and the clients built on it.
type testClient struct {
	store  *MemoryTokenStore
	router *Router
	sess   *Session
	http   *HTTPClient
}

func newTestClient(t *testing.T, fb *fakeBackend) *testClient {
	t.Helper()
	store := NewMemoryTokenStore()
	router := NewRouter(RouteLogin)
	sess := NewSession(store, router, discardLogger())
	return &testClient{
		store:  store,
		router: router,
		sess:   sess,
		http:   NewHTTPClient(fb.srv.URL, 5*time.Second, sess, discardLogger()),
	}
}

// routeLog records every navigation of a router.
type routeLog struct {
	mu     sync.Mutex
	routes []string
}

func recordRoutes(r *Router) *routeLog {
	l := &routeLog{}
	r.OnNavigate(func(route string) {
		l.mu.Lock()
		l.routes = append(l.routes, route)
		l.mu.Unlock()
	})
	return l
}

func (l *routeLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.routes)
}

func newTestManager(t *testing.T, fb *fakeBackend, store TokenStore) *LibraryManager {
	t.Helper()
	if store == nil {
		store = NewMemoryTokenStore()
	}
	mgr, err := NewLibraryManager(ManagerOptions{
		Store:       store,
		APIURL:      fb.srv.URL,
		GraphQLURL:  fb.srv.URL + "/graphql",
		WSURL:       fb.wsURL(),
		HTTPTimeout: 5 * time.Second,
		Subscription: SubscriptionOptions{
			RetryAttempts: 3,
			RetryDelay:    10 * time.Millisecond,
			AckTimeout:    2 * time.Second,
		},
		Logger: discardLogger(),
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(func() { mgr.Close() })
	return mgr
}
