package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	pexec "github.com/zhubert/codex-bridge/exec"
	"github.com/zhubert/codex-bridge/logger"
	"github.com/zhubert/codex-bridge/process"
)

func TestConfirm(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{"lowercase y", "y\n", true},
		{"uppercase YES", "YES\n", true},
		{"y with spaces", "  y  \n", true},
		{"lowercase n", "n\n", false},
		{"empty input", "\n", false},
		{"random text", "maybe\n", false},
		{"EOF", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			if got := confirm(strings.NewReader(tt.input), &out, "Test?"); got != tt.expected {
				t.Errorf("confirm(%q) = %v, want %v", tt.input, got, tt.expected)
			}
			if out.String() != "Test? [y/N]: " {
				t.Errorf("prompt = %q", out.String())
			}
		})
	}
}

func TestConfirm_ErrorReader(t *testing.T) {
	if confirm(&errorReader{}, &bytes.Buffer{}, "Test?") {
		t.Error("confirm should return false on read error")
	}
}

type errorReader struct{}

func (r *errorReader) Read(p []byte) (int, error) {
	return 0, errors.New("read error")
}

func newCleanFinder() (*process.Finder, *pexec.MockExecutor) {
	mock := pexec.NewMockExecutor(nil)
	mock.AddPrefixMatch("ps", nil, pexec.MockResponse{Stdout: []byte("  42     1 codex proto\n  43   900 codex proto\n")})
	return process.NewFinder(mock), mock
}

func writeLogs(t *testing.T) string {
	t.Helper()
	mainLog, err := logger.DefaultLogPath()
	if err != nil {
		t.Fatal(err)
	}
	sessionLog, err := logger.SessionLogPath("s1")
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{mainLog, sessionLog} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("log\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return sessionLog
}

func TestRunClean_Aborted(t *testing.T) {
	orig := skipConfirm
	defer func() { skipConfirm = orig }()
	skipConfirm = false

	sessionLog := writeLogs(t)
	finder, mock := newCleanFinder()
	var out bytes.Buffer

	if err := runCleanWithReader(context.Background(), strings.NewReader("n\n"), &out, finder); err != nil {
		t.Fatalf("runClean: %v", err)
	}

	if !strings.Contains(out.String(), "Aborted.") {
		t.Errorf("expected abort message, got:\n%s", out.String())
	}
	if _, err := os.Stat(sessionLog); err != nil {
		t.Errorf("logs should survive an aborted clean: %v", err)
	}
	if mock.CallCount("kill") != 0 {
		t.Error("no process should be killed when aborted")
	}
}

func TestRunClean_Confirmed(t *testing.T) {
	orig := skipConfirm
	defer func() { skipConfirm = orig }()
	skipConfirm = true

	sessionLog := writeLogs(t)
	finder, mock := newCleanFinder()
	var out bytes.Buffer

	if err := runCleanWithReader(context.Background(), strings.NewReader(""), &out, finder); err != nil {
		t.Fatalf("runClean: %v", err)
	}

	output := out.String()
	for _, want := range []string{"1 orphaned codex process(es)", "PID 42", "2 log file(s) removed", "1 orphaned process(es) killed"} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}
	if _, err := os.Stat(sessionLog); !os.IsNotExist(err) {
		t.Errorf("session log should be removed, stat err = %v", err)
	}

	var kills []string
	for _, c := range mock.GetCalls() {
		if c.Name == "kill" {
			kills = append(kills, c.String())
		}
	}
	if len(kills) != 1 || kills[0] != "kill -9 42" {
		t.Errorf("unexpected kills: %v", kills)
	}
}
