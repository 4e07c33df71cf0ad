package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"library-portal/library"
)

const shellHelp = `Available commands:
  Session:  login, logout
  Students: list, next, prev, page, filter, add, edit, delete
  Books:    books, books next, books prev, back
  System:   help, exit`

// runShell is the interactive portal. Navigation follows the router: a
// rejected session sends the user back to the login view.
func runShell(ctx context.Context, mgr *library.LibraryManager, in io.Reader, out io.Writer) error {
	p := newPrompter(in, out)

	mgr.Router.OnNavigate(func(route string) {
		if route == library.RouteLogin {
			fmt.Fprintln(out, "You are logged out. Type 'login' to sign in.")
		}
	})
	mgr.Feed.OnAdded(func(s library.Student) {
		fmt.Fprintf(out, "\nNew student: %s\n> ", library.PrettyStudent(s))
	})

	fmt.Fprintln(out, "Welcome to the Library Student Portal!")
	fmt.Fprintln(out, shellHelp)

	if !mgr.Auth.Open() {
		fmt.Fprintln(out, "Type 'login' to sign in.")
	} else {
		show(out, mgr.Visit(ctx, library.RouteStudents), func() { renderStudents(out, mgr.Students) })
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		cmd, ok := p.ask("\n> ")
		if !ok {
			return nil
		}

		switch cmd {
		case "login":
			handleLogin(ctx, p, mgr, out)
		case "logout":
			if err := mgr.Auth.Logout(); err != nil {
				fmt.Fprintf(out, "Error: %s\n", library.UserMessage(err))
			}
		case "list":
			show(out, mgr.Visit(ctx, library.RouteStudents), func() { renderStudents(out, mgr.Students) })
		case "next":
			show(out, gated(mgr, func() error { return mgr.Students.NextPage(ctx) }), func() { renderStudents(out, mgr.Students) })
		case "prev":
			show(out, gated(mgr, func() error { return mgr.Students.PrevPage(ctx) }), func() { renderStudents(out, mgr.Students) })
		case "page":
			handlePage(ctx, p, mgr, out)
		case "filter":
			handleFilter(ctx, p, mgr, out)
		case "add":
			handleSave(ctx, p, mgr, out, false)
		case "edit":
			handleSave(ctx, p, mgr, out, true)
		case "delete":
			handleDelete(ctx, p, mgr, out)
		case "books":
			handleBooks(ctx, p, mgr, out)
		case "books next":
			show(out, gated(mgr, func() error { return mgr.Books.NextPage(ctx) }), func() { renderBooks(out, mgr.Books) })
		case "books prev":
			show(out, gated(mgr, func() error { return mgr.Books.PrevPage(ctx) }), func() { renderBooks(out, mgr.Books) })
		case "back":
			show(out, mgr.Visit(ctx, library.RouteStudents), func() { renderStudents(out, mgr.Students) })
		case "help":
			fmt.Fprintln(out, shellHelp)
		case "exit", "quit":
			fmt.Fprintln(out, "Goodbye!")
			return nil
		case "":
		default:
			fmt.Fprintln(out, "Unknown command. Type 'help' to list the available commands.")
		}
	}
}

// show prints err as a user message, or runs render on success.
func show(out io.Writer, err error, render func()) {
	if err != nil {
		fmt.Fprintf(out, "Error: %s\n", library.UserMessage(err))
		return
	}
	render()
}

func gated(mgr *library.LibraryManager, fn func() error) error {
	return mgr.Session.Gate(fn)
}

func handleLogin(ctx context.Context, p *prompter, mgr *library.LibraryManager, out io.Writer) {
	if mgr.Auth.Open() {
		fmt.Fprintln(out, "Already logged in.")
		show(out, mgr.Visit(ctx, library.RouteStudents), func() { renderStudents(out, mgr.Students) })
		return
	}

	username, ok := p.ask("Username: ")
	if !ok {
		return
	}
	password, err := p.password("Password: ")
	if err != nil {
		fmt.Fprintf(out, "Error reading password: %v\n", err)
		return
	}

	if err := mgr.Auth.Login(ctx, username, password); err != nil {
		fmt.Fprintf(out, "Login failed: %s\n", library.UserMessage(err))
		return
	}
	fmt.Fprintf(out, "Welcome, %s!\n", username)
	if mgr.Session.IsAdmin() {
		fmt.Fprintln(out, "Administrator controls are enabled.")
	}
	show(out, mgr.Visit(ctx, library.RouteStudents), func() { renderStudents(out, mgr.Students) })
}

func handlePage(ctx context.Context, p *prompter, mgr *library.LibraryManager, out io.Writer) {
	answer, ok := p.ask("Page number: ")
	if !ok {
		return
	}
	n, err := strconv.Atoi(answer)
	if err != nil || n < 1 {
		fmt.Fprintf(out, "Invalid page number: %s\n", answer)
		return
	}
	show(out, gated(mgr, func() error { return mgr.Students.SetPage(ctx, n-1) }), func() { renderStudents(out, mgr.Students) })
}

func handleFilter(ctx context.Context, p *prompter, mgr *library.LibraryManager, out io.Writer) {
	filter, ok := p.ask("Filter by name (empty to clear): ")
	if !ok {
		return
	}
	show(out, gated(mgr, func() error { return mgr.Students.SetFilter(ctx, filter) }), func() { renderStudents(out, mgr.Students) })
}

func handleSave(ctx context.Context, p *prompter, mgr *library.LibraryManager, out io.Writer, editing bool) {
	if !mgr.Session.Authenticated() {
		fmt.Fprintf(out, "Error: %s\n", library.UserMessage(library.ErrNotLoggedIn))
		return
	}

	view := mgr.Students
	if editing {
		if !adminOnly(mgr, out) {
			return
		}
		id, ok := askID(p, out, "Student ID: ")
		if !ok {
			return
		}
		if err := view.EditByID(ctx, id); err != nil {
			fmt.Fprintf(out, "Error: %s\n", library.UserMessage(err))
			return
		}
	} else {
		view.ResetForm()
	}

	form, _ := view.Form()
	name, ok := p.ask(withDefault("Name", form.Name))
	if !ok {
		return
	}
	email, ok := p.ask(withDefault("Email", form.Email))
	if !ok {
		return
	}
	view.SetForm(orDefault(name, form.Name), orDefault(email, form.Email))

	saved, err := view.Submit(ctx)
	if err != nil {
		fmt.Fprintf(out, "Failed to save student: %s\n", library.UserMessage(err))
		return
	}
	if editing {
		fmt.Fprintf(out, "Updated student %s\n", saved.ID)
	} else {
		fmt.Fprintf(out, "Added student '%s' with ID %s\n", saved.Name, saved.ID)
	}
	renderStudents(out, view)
}

func handleDelete(ctx context.Context, p *prompter, mgr *library.LibraryManager, out io.Writer) {
	if !adminOnly(mgr, out) {
		return
	}
	id, ok := askID(p, out, "Student ID: ")
	if !ok {
		return
	}
	var deleted bool
	err := gated(mgr, func() error {
		var err error
		deleted, err = mgr.Students.Delete(ctx, id, p)
		return err
	})
	show(out, err, func() {
		if !deleted {
			fmt.Fprintln(out, "Cancelled.")
			return
		}
		fmt.Fprintf(out, "Deleted student %s\n", id)
		renderStudents(out, mgr.Students)
	})
}

func handleBooks(ctx context.Context, p *prompter, mgr *library.LibraryManager, out io.Writer) {
	if !adminOnly(mgr, out) {
		return
	}
	id, ok := askID(p, out, "Student ID: ")
	if !ok {
		return
	}
	show(out, mgr.Visit(ctx, library.StudentBooksRoute(id)), func() { renderBooks(out, mgr.Books) })
}

// adminOnly mirrors the list's row controls, which only admins see.
func adminOnly(mgr *library.LibraryManager, out io.Writer) bool {
	if len(mgr.Students.Actions()) == 0 {
		fmt.Fprintln(out, "This action is only available to administrators.")
		return false
	}
	return true
}

func askID(p *prompter, out io.Writer, label string) (library.ID, bool) {
	answer, ok := p.ask(label)
	if !ok {
		return 0, false
	}
	id, err := library.ParseID(answer)
	if err != nil {
		fmt.Fprintf(out, "Invalid student ID: %s\n", answer)
		return 0, false
	}
	return id, true
}

func withDefault(label, current string) string {
	if current == "" {
		return label + ": "
	}
	return fmt.Sprintf("%s [%s]: ", label, current)
}

func orDefault(answer, current string) string {
	if strings.TrimSpace(answer) == "" {
		return current
	}
	return answer
}
