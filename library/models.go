package library

import (
	"strconv"
	"strings"
	"time"
)

// ID is a server-assigned identifier. The REST API sends it as a JSON number
// while GraphQL serializes ID as a string; both decode to the same value so
// records from either source can be compared.
type ID int64

func (id *ID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*id = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*id = ID(n)
	return nil
}

func (id ID) String() string { return strconv.FormatInt(int64(id), 10) }

// ParseID parses a decimal identifier as typed on the command line.
func ParseID(s string) (ID, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, err
	}
	return ID(n), nil
}

// Student is a registered student as returned by the students endpoint and the
// studentAdded subscription.
type Student struct {
	ID    ID     `json:"id,omitempty"`
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required,email"`
}

// MatchesFilter reports whether the student's name contains filter, ignoring case.
// An empty filter matches everyone.
func (s Student) MatchesFilter(filter string) bool {
	return strings.Contains(strings.ToLower(s.Name), strings.ToLower(filter))
}

// Book is the title/author pair embedded in a loan record.
type Book struct {
	Title  string `json:"title"`
	Author string `json:"author"`
}

// BorrowedBook is one loan record of a student. ReturnDate is nil while the book
// is still out.
type BorrowedBook struct {
	ID         ID      `json:"id"`
	BorrowDate Date    `json:"borrowDate"`
	DueDate    Date    `json:"dueDate"`
	ReturnDate *Date   `json:"returnDate"`
	FineAmount float64 `json:"fineAmount"`
	Book       Book    `json:"book"`
}

// Returned reports whether the loan has a return date.
func (b BorrowedBook) Returned() bool {
	return b.ReturnDate != nil && !b.ReturnDate.IsZero()
}

// Page is the paging envelope shared by the REST list endpoint and the
// borrowed-books query. Number is zero-based.
type Page[T any] struct {
	Content       []T `json:"content"`
	TotalPages    int `json:"totalPages"`
	TotalElements int `json:"totalElements"`
	Number        int `json:"number"`
	Size          int `json:"size"`
}

// LastIndex returns the highest valid page index, or 0 for an empty result.
func (p Page[T]) LastIndex() int {
	if p.TotalPages <= 0 {
		return 0
	}
	return p.TotalPages - 1
}

// Credentials is the login request body.
type Credentials struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// AuthResponse is the login response body.
type AuthResponse struct {
	Token string `json:"token"`
}

const dateLayout = "2006-01-02"

// Date is a calendar date serialized as YYYY-MM-DD.
type Date time.Time

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*d = Date(time.Time{})
		return nil
	}
	// Some backends send a full timestamp for LocalDate fields.
	if len(s) > len(dateLayout) {
		s = s[:len(dateLayout)]
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return err
	}
	*d = Date(t)
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.String() + `"`), nil
}

func (d Date) IsZero() bool { return time.Time(d).IsZero() }

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return time.Time(d).Format(dateLayout)
}
