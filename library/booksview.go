package library

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const defaultBooksPageSize = 5

const borrowedBooksQuery = `query BorrowedBooks($studentId: ID!, $page: Int, $size: Int) {
  borrowedBooksByStudent(studentId: $studentId, page: $page, size: $size) {
    content {
      id
      borrowDate
      dueDate
      returnDate
      fineAmount
      book {
        title
        author
      }
    }
    totalPages
    number
  }
}`

var finePrinter = message.NewPrinter(language.MustParse("en-IN"))

// FormatFine renders a fine in rupees.
func FormatFine(amount float64) string {
	return finePrinter.Sprint(currency.Symbol(currency.INR.Amount(amount)))
}

// ReturnLabel describes whether a loan was returned.
func ReturnLabel(b BorrowedBook) string {
	if b.Returned() {
		return "Returned " + b.ReturnDate.String()
	}
	return "Not returned"
}

// BooksView is the paginated loan history of one student. Navigation is
// clamped against the page count the server last reported.
type BooksView struct {
	gql      *GraphQLClient
	pageSize int
	logger   *slog.Logger

	mu        sync.Mutex
	studentID ID
	page      int
	result    *Page[BorrowedBook]
	seq       uint64
}

func NewBooksView(gql *GraphQLClient, pageSize int, logger *slog.Logger) *BooksView {
	if pageSize <= 0 {
		pageSize = defaultBooksPageSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BooksView{gql: gql, pageSize: pageSize, logger: logger}
}

// Open shows the first page of a student's loans.
func (v *BooksView) Open(ctx context.Context, studentID ID) error {
	v.mu.Lock()
	v.studentID = studentID
	v.page = 0
	v.result = nil
	v.mu.Unlock()
	return v.Load(ctx)
}

// Load fetches the current page from the server. Superseded responses are
// dropped.
func (v *BooksView) Load(ctx context.Context) error {
	return v.load(ctx, v.gql.Query)
}

func (v *BooksView) load(ctx context.Context, query func(context.Context, string, map[string]any, any) error) error {
	v.mu.Lock()
	v.seq++
	seq := v.seq
	vars := map[string]any{
		"studentId": v.studentID.String(),
		"page":      v.page,
		"size":      v.pageSize,
	}
	v.mu.Unlock()

	var data struct {
		BorrowedBooksByStudent *Page[BorrowedBook] `json:"borrowedBooksByStudent"`
	}
	err := query(ctx, borrowedBooksQuery, vars, &data)

	v.mu.Lock()
	defer v.mu.Unlock()
	if seq != v.seq {
		return nil
	}
	if err != nil {
		v.logger.Error("error fetching borrowed books", "student", vars["studentId"], "error", err)
		return wrapError("borrowedBooks", err)
	}
	if data.BorrowedBooksByStudent == nil {
		data.BorrowedBooksByStudent = &Page[BorrowedBook]{}
	}
	v.result = data.BorrowedBooksByStudent
	return nil
}

// SetPage moves to page n, clamped to [0, last reported page].
func (v *BooksView) SetPage(ctx context.Context, n int) error {
	v.mu.Lock()
	last := 0
	if v.result != nil {
		last = v.result.LastIndex()
	}
	n = min(max(n, 0), last)
	if n == v.page && v.result != nil {
		v.mu.Unlock()
		return nil
	}
	v.page = n
	v.mu.Unlock()
	// Pages seen before are served from the cache with the latest known
	// state of each loan.
	return v.load(ctx, v.gql.QueryCacheFirst)
}

func (v *BooksView) NextPage(ctx context.Context) error {
	if !v.HasNext() {
		return nil
	}
	return v.SetPage(ctx, v.Page()+1)
}

func (v *BooksView) PrevPage(ctx context.Context) error {
	if !v.HasPrev() {
		return nil
	}
	return v.SetPage(ctx, v.Page()-1)
}

func (v *BooksView) HasPrev() bool { return v.Page() > 0 }

func (v *BooksView) HasNext() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.result != nil && v.result.Number+1 < v.result.TotalPages
}

func (v *BooksView) Page() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.page
}

// TotalPages returns the page count from the last response.
func (v *BooksView) TotalPages() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.result == nil {
		return 0
	}
	return v.result.TotalPages
}

func (v *BooksView) StudentID() ID {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.studentID
}

// Books returns the loans of the current page.
func (v *BooksView) Books() []BorrowedBook {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.result == nil {
		return nil
	}
	return slices.Clone(v.result.Content)
}
