package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/do/v2"
	"github.com/spf13/cobra"

	"library-portal/internal/config"
	"library-portal/internal/di"
	"library-portal/library"
)

func main() {
	var flags config.Flags
	cmd := &cobra.Command{
		Use:           "import_students <file.csv>",
		Short:         "Create students from a name,email CSV file",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, flags, args[0])
		},
	}
	cmd.Flags().StringVar(&flags.APIURL, "api-url", "", "Backend base URL")
	cmd.Flags().StringVar(&flags.DBPath, "db", "", "Path of the local token database")
	cmd.Flags().StringVar(&flags.EnvFile, "env-file", ".env", "Path to .env file")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", library.UserMessage(err))
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, flags config.Flags, path string) error {
	injector := di.NewContainer(flags)
	defer injector.Shutdown()

	mgr, err := do.Invoke[*di.ManagerHandle](injector)
	if err != nil {
		return err
	}
	if !mgr.Session.Authenticated() {
		return fmt.Errorf("%w: run 'library-portal login' first", library.ErrNotLoggedIn)
	}

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return err
	}
	defer f.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Importing students from %s...\n", path)

	var imported []*library.Student
	ok, failed, err := library.ImportStudents(cmd.Context(), mgr.StudentService(), f, func(res library.ImportResult) {
		if res.Err != nil {
			fmt.Fprintf(out, "Line %d: ERROR - %s\n", res.Line, library.UserMessage(res.Err))
			return
		}
		fmt.Fprintf(out, "Line %d: SUCCESS (ID: %s)\n", res.Line, res.Student.ID)
		imported = append(imported, res.Student)
	})

	fmt.Fprintf(out, "\nImport complete!\n")
	fmt.Fprintf(out, "Successfully imported: %d students\n", ok)
	fmt.Fprintf(out, "Errors: %d\n", failed)

	if len(imported) > 0 {
		fmt.Fprintln(out, "\nImported students:")
		fmt.Fprintf(out, "%-6s %-30s %-35s\n", "ID", "Name", "Email")
		fmt.Fprintln(out, strings.Repeat("-", 73))
		for _, s := range imported {
			fmt.Fprintln(out, library.PrettyStudent(*s))
		}
	}
	return err
}
