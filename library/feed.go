package library

import (
	"encoding/json"
	"log/slog"
	"sync"
)

const studentAddedSubscription = `subscription OnStudentAdded {
  studentAdded {
    id
    name
    email
  }
}`

// LiveFeed pushes students created elsewhere into a StudentView.
type LiveFeed struct {
	gql    *GraphQLClient
	view   *StudentView
	logger *slog.Logger

	mu      sync.Mutex
	id      string
	onAdded func(Student)
}

func NewLiveFeed(gql *GraphQLClient, view *StudentView, logger *slog.Logger) *LiveFeed {
	if logger == nil {
		logger = slog.Default()
	}
	return &LiveFeed{gql: gql, view: view, logger: logger}
}

// OnAdded registers fn to run after an event was inserted into the view.
func (f *LiveFeed) OnAdded(fn func(Student)) {
	f.mu.Lock()
	f.onAdded = fn
	f.mu.Unlock()
}

// Start subscribes to studentAdded. A second call is a no-op.
func (f *LiveFeed) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.id != "" {
		return nil
	}
	id, err := f.gql.Subscribe(studentAddedSubscription, nil, f.handle)
	if err != nil {
		f.logger.Error("subscription error", "error", err)
		return wrapError("studentAdded", err)
	}
	f.id = id
	return nil
}

// Stop ends the subscription.
func (f *LiveFeed) Stop() error {
	f.mu.Lock()
	id := f.id
	f.id = ""
	f.mu.Unlock()
	if id == "" {
		return nil
	}
	return f.gql.Unsubscribe(id)
}

func (f *LiveFeed) handle(data json.RawMessage, err error) {
	if err != nil {
		f.logger.Error("subscription error", "error", err)
		return
	}

	var event struct {
		StudentAdded *Student `json:"studentAdded"`
	}
	if err := json.Unmarshal(data, &event); err != nil {
		f.logger.Error("subscription error", "error", err)
		return
	}
	s := event.StudentAdded
	if s == nil {
		return
	}
	if !s.MatchesFilter(f.view.Filter()) {
		return
	}
	if !f.view.AddStudent(*s) {
		return
	}
	f.logger.Debug("student added from feed", "id", s.ID)

	f.mu.Lock()
	fn := f.onAdded
	f.mu.Unlock()
	if fn != nil {
		fn(*s)
	}
}
