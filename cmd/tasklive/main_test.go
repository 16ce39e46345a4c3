package main

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/astromechza/tasklive/pkg/server"
	"github.com/astromechza/tasklive/pkg/store"
)

func startServer(t *testing.T) string {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "tasks.sqlite3"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	srv := server.New(st, server.Options{})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	t.Cleanup(srv.Close)

	path := filepath.Join(t.TempDir(), "tasklive.yaml")
	content := "client:\n  base_url: " + ts.URL + "\nlog:\n  level: error\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCLI_TaskCommands(t *testing.T) {
	cfg := startServer(t)

	steps := []struct {
		args []string
		want string
	}{
		{[]string{"add", "write", "report", "--due", "2024-02-01", "--assignee", "a@example.com"}, "   1  [ ] write report  (due 2024-02-01, a@example.com)\n"},
		{[]string{"list"}, "   1  [ ] write report  (due 2024-02-01, a@example.com)\n"},
		{[]string{"done", "1"}, "   1  [x] write report  (due 2024-02-01, a@example.com)\n"},
		{[]string{"edit", "1", "--assignee", ""}, "   1  [x] write report  (due 2024-02-01)\n"},
		{[]string{"done", "1", "--undo"}, "   1  [ ] write report  (due 2024-02-01)\n"},
		{[]string{"rm", "1"}, "deleted task 1\n"},
		{[]string{"list"}, "(no tasks)\n"},
	}
	for _, step := range steps {
		got, err := runCLI(t, append([]string{"--config", cfg}, step.args...)...)
		if err != nil {
			t.Fatalf("%v: %v", step.args, err)
		}
		if got != step.want {
			t.Errorf("%v: got %q, want %q", step.args, got, step.want)
		}
	}
}

func TestCLI_Errors(t *testing.T) {
	cfg := startServer(t)

	if _, err := runCLI(t, "--config", cfg, "done", "abc"); err == nil || !strings.Contains(err.Error(), "invalid task id") {
		t.Errorf("expected invalid id error, got %v", err)
	}
	if _, err := runCLI(t, "--config", cfg, "rm", "9"); err == nil || !strings.Contains(err.Error(), "task not found") {
		t.Errorf("expected not found error, got %v", err)
	}
	if _, err := runCLI(t, "--config", cfg, "edit", "1"); err == nil || !strings.Contains(err.Error(), "nothing to change") {
		t.Errorf("expected nothing to change error, got %v", err)
	}
}

func TestCLI_ConfigShow(t *testing.T) {
	cfg := startServer(t)

	got, err := runCLI(t, "--config", cfg, "--base-url", "http://elsewhere:9000", "config", "show")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"base_url: http://elsewhere:9000", "transport: sse", "initial_delay: 5s"} {
		if !strings.Contains(got, want) {
			t.Errorf("config output is missing %q:\n%s", want, got)
		}
	}
}
