package library

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
)

const defaultStudentPageSize = 10

// DeletePrompt is the confirmation question asked before a delete.
const DeletePrompt = "Are you sure you want to delete this student?"

// Action is a per-row control of the student list.
type Action string

const (
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
	ActionBooks  Action = "books"
)

// Confirmer asks the user a yes/no question.
type Confirmer interface {
	Confirm(prompt string) bool
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(prompt string) bool

func (f ConfirmFunc) Confirm(prompt string) bool { return f(prompt) }

// StudentView holds the state of the student list: the current page, the name
// filter, the displayed students and the add/edit form. Commands and live feed
// events may arrive from different goroutines.
type StudentView struct {
	students *StudentService
	session  *Session
	pageSize int
	logger   *slog.Logger

	mu      sync.Mutex
	page    int
	filter  string
	rows    []Student
	form    Student
	editing bool
	seq     uint64
}

func NewStudentView(students *StudentService, session *Session, pageSize int, logger *slog.Logger) *StudentView {
	if pageSize <= 0 {
		pageSize = defaultStudentPageSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StudentView{students: students, session: session, pageSize: pageSize, logger: logger}
}

// Refresh fetches the current page and replaces the displayed list with it. A
// response that arrives after a newer Refresh was started is dropped.
func (v *StudentView) Refresh(ctx context.Context) error {
	v.mu.Lock()
	v.seq++
	seq := v.seq
	params := ListParams{Page: v.page, Size: v.pageSize, Sort: SortByNameAsc, NameFilter: v.filter}
	v.mu.Unlock()

	page, err := v.students.List(ctx, params)

	v.mu.Lock()
	defer v.mu.Unlock()
	if seq != v.seq {
		v.logger.Debug("discarding superseded student list", "seq", seq, "latest", v.seq)
		return nil
	}
	if err != nil {
		v.logger.Error("error fetching students", "error", err)
		return err
	}
	v.rows = page.Content
	return nil
}

// Select sets the page and filter without fetching; the next Refresh uses them.
func (v *StudentView) Select(page int, filter string) {
	v.mu.Lock()
	v.page = max(page, 0)
	v.filter = strings.TrimSpace(filter)
	v.mu.Unlock()
}

// SetPage moves to page n and refetches. Negative pages become 0.
func (v *StudentView) SetPage(ctx context.Context, n int) error {
	v.mu.Lock()
	v.page = max(n, 0)
	v.mu.Unlock()
	return v.Refresh(ctx)
}

// SetFilter changes the name filter and refetches.
func (v *StudentView) SetFilter(ctx context.Context, filter string) error {
	v.mu.Lock()
	v.filter = strings.TrimSpace(filter)
	v.mu.Unlock()
	return v.Refresh(ctx)
}

// NextPage advances one page. This list has no total-page count, so there is no
// upper bound.
func (v *StudentView) NextPage(ctx context.Context) error {
	return v.SetPage(ctx, v.Page()+1)
}

// PrevPage goes back one page, stopping at the first.
func (v *StudentView) PrevPage(ctx context.Context) error {
	if !v.HasPrev() {
		return nil
	}
	return v.SetPage(ctx, v.Page()-1)
}

func (v *StudentView) HasPrev() bool { return v.Page() > 0 }

// HasNext is always true; the list endpoint is paged by index only.
func (v *StudentView) HasNext() bool { return true }

func (v *StudentView) Page() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.page
}

func (v *StudentView) Filter() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.filter
}

// Students returns a copy of the displayed rows.
func (v *StudentView) Students() []Student {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.rows)
}

// AddStudent prepends s unless a student with the same id is already shown.
// It reports whether the list changed.
func (v *StudentView) AddStudent(s Student) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if slices.ContainsFunc(v.rows, func(r Student) bool { return r.ID == s.ID }) {
		return false
	}
	v.rows = append([]Student{s}, v.rows...)
	return true
}

// SetForm fills the form fields.
func (v *StudentView) SetForm(name, email string) {
	v.mu.Lock()
	v.form.Name = name
	v.form.Email = email
	v.mu.Unlock()
}

// Form returns the form contents and whether it edits an existing student.
func (v *StudentView) Form() (Student, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.form, v.editing
}

// Edit loads s into the form; the next Submit updates it.
func (v *StudentView) Edit(s Student) {
	v.mu.Lock()
	v.form = s
	v.editing = true
	v.mu.Unlock()
}

// EditByID loads student id into the form, from the displayed rows when it is
// there and from the server otherwise.
func (v *StudentView) EditByID(ctx context.Context, id ID) error {
	v.mu.Lock()
	idx := slices.IndexFunc(v.rows, func(r Student) bool { return r.ID == id })
	var s Student
	if idx >= 0 {
		s = v.rows[idx]
	}
	v.mu.Unlock()

	if idx < 0 {
		fetched, err := v.students.Get(ctx, id)
		if err != nil {
			v.logger.Error("error loading student", "id", id, "error", err)
			return err
		}
		s = *fetched
	}
	v.Edit(s)
	return nil
}

// ResetForm clears the form and leaves edit mode.
func (v *StudentView) ResetForm() {
	v.mu.Lock()
	v.form = Student{}
	v.editing = false
	v.mu.Unlock()
}

// Submit saves the form. A new student is shown right away when it matches the
// filter; an update refetches the page. The form is reset on success.
func (v *StudentView) Submit(ctx context.Context) (*Student, error) {
	form, editing := v.Form()
	form.Name = strings.TrimSpace(form.Name)
	form.Email = strings.TrimSpace(form.Email)
	if err := Validate(form); err != nil {
		return nil, err
	}

	if editing {
		updated, err := v.students.Update(ctx, form.ID, form)
		if err != nil {
			v.logger.Error("save error", "id", form.ID, "error", err)
			return nil, err
		}
		v.ResetForm()
		return updated, v.Refresh(ctx)
	}

	created, err := v.students.Create(ctx, form)
	if err != nil {
		v.logger.Error("save error", "error", err)
		return nil, err
	}
	if created.MatchesFilter(v.Filter()) {
		v.AddStudent(*created)
	}
	v.ResetForm()
	return created, nil
}

// Delete asks confirm first and, when confirmed, deletes id and refetches. It
// reports whether the delete was issued.
func (v *StudentView) Delete(ctx context.Context, id ID, confirm Confirmer) (bool, error) {
	if !confirm.Confirm(DeletePrompt) {
		return false, nil
	}
	if err := v.students.Delete(ctx, id); err != nil {
		v.logger.Error("delete error", "id", id, "error", err)
		return false, err
	}
	return true, v.Refresh(ctx)
}

// Actions lists the row controls to render. Only admins get any; the backend
// still authorizes every call.
func (v *StudentView) Actions() []Action {
	if !v.session.IsAdmin() {
		return nil
	}
	return []Action{ActionEdit, ActionDelete, ActionBooks}
}
