package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/samber/do/v2"
	"github.com/spf13/cobra"

	"library-portal/internal/config"
	"library-portal/internal/di"
	"library-portal/library"
)

// app carries the container across cobra hooks.
type app struct {
	flags    config.Flags
	injector *do.RootScope
	mgr      *library.LibraryManager
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run executes one command line and returns the process exit code.
func run(args []string, in io.Reader, out, errOut io.Writer) int {
	a := &app{}
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	err := root.Execute()
	a.shutdown()
	if err != nil {
		fmt.Fprintln(errOut, "Error:", library.UserMessage(err))
		return 1
	}
	return 0
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "library-portal",
		Short:         "Manage library students and their borrowed books",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a.injector = di.NewContainer(a.flags)
			handle, err := do.Invoke[*di.ManagerHandle](a.injector)
			if err != nil {
				return err
			}
			a.mgr = handle.LibraryManager
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.Env, "env", "", "Environment (development, staging, production)")
	pf.StringVar(&a.flags.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVar(&a.flags.APIURL, "api-url", "", "Backend base URL (default: http://localhost:8080)")
	pf.StringVar(&a.flags.GraphQLURL, "graphql-url", "", "GraphQL endpoint (default: {api-url}/graphql)")
	pf.StringVar(&a.flags.WSURL, "ws-url", "", "GraphQL subscription endpoint")
	pf.StringVar(&a.flags.DBPath, "db", "", "Path of the local token database")
	pf.StringVar(&a.flags.HTTPTimeout, "timeout", "", "HTTP request timeout (default: 30s)")
	pf.StringVar(&a.flags.WSRetryAttempts, "ws-retries", "", "WebSocket reconnect attempts (default: 5)")
	pf.StringVar(&a.flags.EnvFile, "env-file", ".env", "Path to .env file")

	root.AddCommand(
		a.loginCommand(),
		a.logoutCommand(),
		a.studentsCommand(),
		a.booksCommand(),
		a.shellCommand(),
	)
	return root
}

func (a *app) shutdown() {
	if a.injector == nil {
		return
	}
	a.injector.Shutdown()
	a.injector = nil
}

func (a *app) loginCommand() *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := newPrompter(cmd.InOrStdin(), cmd.OutOrStdout())
			if username == "" {
				var ok bool
				if username, ok = p.ask("Username: "); !ok {
					return nil
				}
			}
			password, err := p.password("Password: ")
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			if err := a.mgr.Auth.Login(cmd.Context(), username, password); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s.\n", strings.TrimSpace(username))
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "Username")
	return cmd
}

func (a *app) logoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.mgr.Auth.Logout(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
			return nil
		},
	}
}

func (a *app) studentsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "students",
		Short: "List and manage students",
	}

	var (
		page   int
		filter string
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "Show one page of students",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.openStudents(cmd.Context(), page, filter); err != nil {
				return err
			}
			renderStudents(cmd.OutOrStdout(), a.mgr.Students)
			return nil
		},
	}
	list.Flags().IntVarP(&page, "page", "p", 0, "Zero-based page index")
	list.Flags().StringVarP(&filter, "filter", "f", "", "Case-insensitive name filter")

	var name, email string
	add := &cobra.Command{
		Use:   "add",
		Short: "Register a new student",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.mgr.Session.Gate(func() error {
				a.mgr.Students.SetForm(name, email)
				created, err := a.mgr.Students.Submit(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added student '%s' with ID %s\n", created.Name, created.ID)
				return nil
			})
		},
	}
	add.Flags().StringVarP(&name, "name", "n", "", "Student name")
	add.Flags().StringVarP(&email, "email", "e", "", "Student email")

	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Change a student's name or email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := library.ParseID(args[0])
			if err != nil {
				return fmt.Errorf("%w: invalid student ID %q", library.ErrValidation, args[0])
			}
			return a.mgr.Session.Gate(func() error {
				view := a.mgr.Students
				if err := view.EditByID(cmd.Context(), id); err != nil {
					return err
				}
				current, _ := view.Form()
				if cmd.Flags().Changed("name") {
					current.Name = name
				}
				if cmd.Flags().Changed("email") {
					current.Email = email
				}
				view.SetForm(current.Name, current.Email)
				updated, err := view.Submit(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Updated student %s: %s <%s>\n", updated.ID, updated.Name, updated.Email)
				return nil
			})
		},
	}
	update.Flags().StringVarP(&name, "name", "n", "", "Student name")
	update.Flags().StringVarP(&email, "email", "e", "", "Student email")

	var yes bool
	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a student",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := library.ParseID(args[0])
			if err != nil {
				return fmt.Errorf("%w: invalid student ID %q", library.ErrValidation, args[0])
			}
			var confirm library.Confirmer = newPrompter(cmd.InOrStdin(), cmd.OutOrStdout())
			if yes {
				confirm = library.ConfirmFunc(func(string) bool { return true })
			}
			return a.mgr.Session.Gate(func() error {
				deleted, err := a.mgr.Students.Delete(cmd.Context(), id, confirm)
				if err != nil {
					return err
				}
				if !deleted {
					fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted student %s\n", id)
				return nil
			})
		},
	}
	del.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")

	watch := &cobra.Command{
		Use:   "watch",
		Short: "Show the student list and print students as they are added",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			a.mgr.Feed.OnAdded(func(s library.Student) {
				fmt.Fprintf(out, "+ %s\n", library.PrettyStudent(s))
			})
			a.mgr.Start(ctx)
			if err := a.openStudents(ctx, page, filter); err != nil {
				return err
			}
			renderStudents(out, a.mgr.Students)
			fmt.Fprintln(out, "Watching for new students. Press Ctrl+C to stop.")
			<-ctx.Done()
			return nil
		},
	}
	watch.Flags().IntVarP(&page, "page", "p", 0, "Zero-based page index")
	watch.Flags().StringVarP(&filter, "filter", "f", "", "Case-insensitive name filter")

	cmd.AddCommand(list, add, update, del, watch)
	return cmd
}

func (a *app) booksCommand() *cobra.Command {
	var page int
	cmd := &cobra.Command{
		Use:   "books <student-id>",
		Short: "Show the books a student has borrowed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := library.ParseID(args[0])
			if err != nil {
				return fmt.Errorf("%w: invalid student ID %q", library.ErrValidation, args[0])
			}
			if err := a.mgr.Visit(cmd.Context(), library.StudentBooksRoute(id)); err != nil {
				return err
			}
			if page > 0 {
				if err := a.mgr.Books.SetPage(cmd.Context(), page); err != nil {
					return err
				}
			}
			renderBooks(cmd.OutOrStdout(), a.mgr.Books)
			return nil
		},
	}
	cmd.Flags().IntVarP(&page, "page", "p", 0, "Zero-based page index")
	return cmd
}

func (a *app) shellCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start the interactive portal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
			defer stop()
			a.mgr.Start(ctx)
			return runShell(ctx, a.mgr, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

// openStudents loads the student list at the given page and filter.
func (a *app) openStudents(ctx context.Context, page int, filter string) error {
	a.mgr.Students.Select(page, filter)
	return a.mgr.Visit(ctx, library.RouteStudents)
}
