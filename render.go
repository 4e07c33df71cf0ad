package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"library-portal/library"
)

// prompter reads answers line by line and masks passwords on a terminal.
type prompter struct {
	sc  *bufio.Scanner
	in  io.Reader
	out io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{sc: bufio.NewScanner(in), in: in, out: out}
}

// ask prints label and returns the trimmed answer. ok is false at end of input.
func (p *prompter) ask(label string) (string, bool) {
	fmt.Fprint(p.out, label)
	if !p.sc.Scan() {
		return "", false
	}
	return strings.TrimSpace(p.sc.Text()), true
}

// password reads a secret without echo when the input is a terminal.
func (p *prompter) password(label string) (string, error) {
	if f, ok := p.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(p.out, label)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(p.out)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	answer, ok := p.ask(label)
	if !ok {
		return "", io.ErrUnexpectedEOF
	}
	return answer, nil
}

// Confirm implements library.Confirmer.
func (p *prompter) Confirm(prompt string) bool {
	answer, ok := p.ask(prompt + " [y/N]: ")
	if !ok {
		return false
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true
	}
	return false
}

func renderStudents(w io.Writer, view *library.StudentView) {
	students := view.Students()
	filter := view.Filter()

	header := fmt.Sprintf("Students (page %d", view.Page()+1)
	if filter != "" {
		header += fmt.Sprintf(", filter '%s'", filter)
	}
	fmt.Fprintln(w, header+")")

	if len(students) == 0 {
		fmt.Fprintln(w, "No students found.")
	} else {
		actions := view.Actions()
		fmt.Fprintf(w, "%-6s %-30s %-35s", "ID", "Name", "Email")
		if len(actions) > 0 {
			fmt.Fprint(w, " Actions (Admin)")
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, strings.Repeat("-", 90))
		for _, s := range students {
			fmt.Fprintf(w, "%-6s %-30s %-35s", s.ID, truncateString(s.Name, 30), truncateString(s.Email, 35))
			if len(actions) > 0 {
				fmt.Fprintf(w, " %s", joinActions(actions))
			}
			fmt.Fprintln(w)
		}
	}
	fmt.Fprintln(w, pager(view.HasPrev(), view.HasNext()))
}

func renderBooks(w io.Writer, view *library.BooksView) {
	books := view.Books()
	fmt.Fprintf(w, "Borrowed Books for Student ID: %s\n", view.StudentID())

	if len(books) == 0 {
		fmt.Fprintln(w, "No books borrowed.")
		return
	}

	fmt.Fprintf(w, "%-30s %-20s %-11s %-11s %-22s %s\n", "Title", "Author", "Borrowed", "Due", "Returned", "Fine")
	fmt.Fprintln(w, strings.Repeat("-", 110))
	for _, b := range books {
		b.Book.Title = truncateString(b.Book.Title, 30)
		b.Book.Author = truncateString(b.Book.Author, 20)
		fmt.Fprintln(w, library.PrettyBorrowedBook(b))
	}
	fmt.Fprintf(w, "Page %d of %d\n", view.Page()+1, view.TotalPages())
	fmt.Fprintln(w, pager(view.HasPrev(), view.HasNext()))
}

func pager(hasPrev, hasNext bool) string {
	prev, next := "[prev]", "[next]"
	if !hasPrev {
		prev = " prev "
	}
	if !hasNext {
		next = " next "
	}
	return prev + " " + next
}

func joinActions(actions []library.Action) string {
	parts := make([]string, len(actions))
	for i, a := range actions {
		parts[i] = string(a)
	}
	return strings.Join(parts, " | ")
}

func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
