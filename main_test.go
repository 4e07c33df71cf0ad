package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"library-portal/library"
)

// seededDB writes token into a fresh token database and returns its path.
func seededDB(t *testing.T, token string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "library.db")
	db, err := library.NewDatabase(path)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	if err := library.NewSQLiteTokenStore(db).Set(token); err != nil {
		t.Fatalf("seed token: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close database: %v", err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code = run(args, strings.NewReader(""), &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestRunReportsCommandErrors(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.env")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "unknown command", args: []string{"stduents"}, want: `unknown command "stduents"`},
		{name: "unknown flag", args: []string{"students", "list", "--pgae", "2"}, want: "unknown flag: --pgae"},
		{
			name: "invalid environment",
			args: []string{"--env", "bogus", "--env-file", missing, "--db", filepath.Join(t.TempDir(), "x.db"), "students", "list"},
			want: "invalid environment: bogus",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := runCLI(t, tt.args...)
			if code != 1 {
				t.Fatalf("exit code = %d, want 1", code)
			}
			if !strings.Contains(stderr, tt.want) {
				t.Fatalf("stderr missing %q:\n%s", tt.want, stderr)
			}
			if strings.Contains(stderr, "Unexpected error occurred") {
				t.Fatalf("error detail was hidden:\n%s", stderr)
			}
		})
	}
}

func TestRunStudentsUpdateKeepsUnsetFields(t *testing.T) {
	backend := newShellBackend(t)
	db := seededDB(t, adminToken(t))
	missing := filepath.Join(t.TempDir(), "missing.env")

	code, stdout, stderr := runCLI(t,
		"--api-url", backend.srv.URL,
		"--env-file", missing,
		"--db", db,
		"students", "update", "1", "--email", "ada@lovelace.org",
	)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr:\n%s", code, stderr)
	}
	if !strings.Contains(stdout, "Updated student 1: Ada Lovelace <ada@lovelace.org>") {
		t.Fatalf("unexpected output:\n%s", stdout)
	}

	updates := backend.recordedUpdates()
	if len(updates) != 1 {
		t.Fatalf("got %d updates, want 1", len(updates))
	}
	if updates[0].Name != "Ada Lovelace" || updates[0].Email != "ada@lovelace.org" {
		t.Fatalf("update body = %+v", updates[0])
	}
}

func TestRunStudentsUpdateRejectsBadID(t *testing.T) {
	code, _, stderr := runCLI(t, "students", "update", "abc",
		"--env-file", filepath.Join(t.TempDir(), "missing.env"),
		"--db", filepath.Join(t.TempDir(), "x.db"))
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, `invalid student ID "abc"`) {
		t.Fatalf("stderr:\n%s", stderr)
	}
}
