// Package main provides tests for the querydeck CLI.
package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/leapstack-labs/querydeck/internal/cli"
	"github.com/leapstack-labs/querydeck/internal/cli/testutil"
)

func TestVersionCommand(t *testing.T) {
	t.Chdir(t.TempDir())

	cmd := cli.NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"version", "--backend", "sqlite"})

	err := cmd.Execute()
	if err != nil {
		t.Errorf("version command error = %v", err)
	}

	output := buf.String()
	for _, want := range []string{"querydeck", "duckdb", "postgres", "sqlite"} {
		if !strings.Contains(output, want) {
			t.Errorf("version output should contain %q, got: %s", want, output)
		}
	}
}

func TestHelpCommand(t *testing.T) {
	cmd := cli.NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--help"})

	err := cmd.Execute()
	if err != nil {
		t.Errorf("help command error = %v", err)
	}

	output := buf.String()
	expectedCommands := []string{"serve", "exec", "explain", "check", "version", "completion"}
	for _, expected := range expectedCommands {
		if !strings.Contains(output, expected) {
			t.Errorf("help output should contain '%s', got: %s", expected, output)
		}
	}
}

func TestExecCommand_SQLite(t *testing.T) {
	t.Chdir(t.TempDir())
	cfgPath, dataDir := testutil.SQLiteConfig(t)

	run := func(sql string) string {
		t.Helper()
		cmd := cli.NewRootCmd()
		out := new(bytes.Buffer)
		cmd.SetOut(out)
		cmd.SetErr(new(bytes.Buffer))
		cmd.SetIn(strings.NewReader(""))
		cmd.SetArgs([]string{
			"exec", "--config", cfgPath,
			"-U", "alice", "--password", "", "--format", "json", sql,
		})
		if err := cmd.Execute(); err != nil {
			t.Fatalf("exec command error = %v", err)
		}
		return out.String()
	}

	run("CREATE TABLE t (x int); INSERT INTO t VALUES (42)")
	out := run("SELECT x FROM t")
	if !strings.Contains(out, `"42"`) {
		t.Errorf("exec output should contain the inserted row, got: %s", out)
	}
	if _, err := os.Stat(filepath.Join(dataDir, "alice.db")); err != nil {
		t.Errorf("expected per-user database file: %v", err)
	}
}

func TestCheckCommand_ConfigFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	cfgPath := testutil.WriteConfig(t, "backend:\n  type: postgres\n")
	t.Setenv("QUERYDECK_BACKEND__TYPE", "sqlite")
	t.Setenv("QUERYDECK_BACKEND__DATA_DIR", t.TempDir())

	cmd := cli.NewRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs([]string{"check", "--config", cfgPath, "-U", "bob", "--password", ""})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("check command error = %v", err)
	}
	for _, want := range []string{"Backend: sqlite", "Config:  " + cfgPath, "Signed in as bob"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("check output should contain %q, got: %s", want, out.String())
		}
	}
}

func TestUnknownBackend(t *testing.T) {
	t.Chdir(t.TempDir())

	cmd := cli.NewRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"version", "--backend", "mysql"})

	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "unknown backend type") {
		t.Errorf("expected unknown backend error, got %v", err)
	}
}
