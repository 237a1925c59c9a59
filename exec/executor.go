// Package exec provides an abstraction over command execution for testability.
// Production code uses RealExecutor; tests inject a MockExecutor that returns
// pre-recorded responses and records every invocation.
package exec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/zhubert/codex-bridge/errs"
)

// Result is what a finished command produced. Exit codes are not interpreted
// here; each caller decides which codes mean failure.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// Success reports whether the command exited with status 0.
func (r *Result) Success() bool {
	return r.ExitCode == 0
}

func (r *Result) String() string {
	return fmt.Sprintf("exit=%d stdout=%q stderr=%q", r.ExitCode, r.Stdout, r.Stderr)
}

// CommandExecutor abstracts command execution for testability.
type CommandExecutor interface {
	// Exec runs name with args in dir. When stdin is non-nil it is written in
	// full and the pipe closed before waiting for the process to exit.
	// A non-zero exit is reported through Result.ExitCode, not as an error;
	// errors are reserved for spawn (errs.KindProcessSpawn) and pipe
	// (errs.KindProcessIO) failures.
	Exec(ctx context.Context, dir string, stdin []byte, name string, args ...string) (*Result, error)
}

// RealExecutor executes commands using os/exec.
type RealExecutor struct{}

// NewRealExecutor returns a new RealExecutor.
func NewRealExecutor() *RealExecutor {
	return &RealExecutor{}
}

// Exec implements CommandExecutor.
//
// Stdout and stderr are attached as buffers, so os/exec drains them on its own
// goroutines while stdin is being written. That is what keeps a multi-megabyte
// patch from wedging on a full pipe in either direction.
func (e *RealExecutor) Exec(ctx context.Context, dir string, stdin []byte, name string, args ...string) (*Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	var stdinPipe io.WriteCloser
	if stdin != nil {
		pipe, err := cmd.StdinPipe()
		if err != nil {
			return nil, errs.ProcessSpawn(name, err)
		}
		stdinPipe = pipe
	}

	if err := cmd.Start(); err != nil {
		return nil, errs.ProcessSpawn(name, err)
	}

	if stdinPipe != nil {
		if _, err := stdinPipe.Write(stdin); err != nil {
			stdinPipe.Close()
			cmd.Wait()
			return nil, errs.ProcessIO(name, "write stdin", err)
		}
		if err := stdinPipe.Close(); err != nil {
			cmd.Wait()
			return nil, errs.ProcessIO(name, "close stdin", err)
		}
	}

	err := cmd.Wait()
	result := &Result{Stdout: stdoutBuf.Bytes(), Stderr: stderrBuf.Bytes()}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	default:
		return nil, errs.ProcessIO(name, "wait", err)
	}
	return result, nil
}

// Output runs a command without stdin and returns its stdout. A non-zero exit
// becomes an error carrying the trimmed stderr.
func Output(ctx context.Context, e CommandExecutor, dir string, name string, args ...string) ([]byte, error) {
	res, err := e.Exec(ctx, dir, nil, name, args...)
	if err != nil {
		return nil, err
	}
	if !res.Success() {
		return res.Stdout, errs.ToolExecution(describe(name, args), res.ExitCode, string(res.Stderr))
	}
	return res.Stdout, nil
}

func describe(name string, args []string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}

// MockResponse defines the response for a mocked command.
type MockResponse struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Err      error
}

// CommandMatcher is a function that determines if a command matches.
type CommandMatcher func(dir, name string, args []string) bool

// MockRule defines a matching rule and its response.
type MockRule struct {
	Match    CommandMatcher
	Response MockResponse
}

// MockCall records a command invocation for verification.
type MockCall struct {
	Dir   string
	Name  string
	Args  []string
	Stdin []byte
}

// String renders the call the way it would be typed in a shell.
func (c MockCall) String() string {
	return describe(c.Name, c.Args)
}

// MockExecutor returns pre-recorded responses for commands.
// Commands are matched in order of rule registration.
type MockExecutor struct {
	mu       sync.RWMutex
	rules    []MockRule
	calls    []MockCall
	fallback CommandExecutor
}

// NewMockExecutor creates a new MockExecutor.
// If fallback is provided, unmatched commands will be delegated to it.
func NewMockExecutor(fallback CommandExecutor) *MockExecutor {
	return &MockExecutor{fallback: fallback}
}

// AddRule adds a matching rule with its response.
func (e *MockExecutor) AddRule(match CommandMatcher, response MockResponse) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, MockRule{Match: match, Response: response})
}

// AddExactMatch adds a rule that matches a specific command exactly.
func (e *MockExecutor) AddExactMatch(name string, args []string, response MockResponse) {
	e.AddRule(func(dir, n string, a []string) bool {
		if n != name || len(a) != len(args) {
			return false
		}
		for i, arg := range args {
			if a[i] != arg {
				return false
			}
		}
		return true
	}, response)
}

// AddPrefixMatch adds a rule that matches commands starting with specific args.
func (e *MockExecutor) AddPrefixMatch(name string, prefixArgs []string, response MockResponse) {
	e.AddRule(func(dir, n string, a []string) bool {
		if n != name || len(a) < len(prefixArgs) {
			return false
		}
		for i, arg := range prefixArgs {
			if a[i] != arg {
				return false
			}
		}
		return true
	}, response)
}

// GetCalls returns all recorded command invocations.
func (e *MockExecutor) GetCalls() []MockCall {
	e.mu.RLock()
	defer e.mu.RUnlock()
	calls := make([]MockCall, len(e.calls))
	copy(calls, e.calls)
	return calls
}

// CallCount returns how many recorded calls ran the named command.
func (e *MockExecutor) CallCount(name string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := 0
	for _, c := range e.calls {
		if c.Name == name {
			n++
		}
	}
	return n
}

// ClearCalls clears the recorded command invocations.
func (e *MockExecutor) ClearCalls() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = nil
}

func (e *MockExecutor) findMatch(dir, name string, args []string) *MockResponse {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, rule := range e.rules {
		if rule.Match(dir, name, args) {
			resp := rule.Response
			return &resp
		}
	}
	return nil
}

func (e *MockExecutor) recordCall(dir, name string, args []string, stdin []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var in []byte
	if stdin != nil {
		in = append([]byte{}, stdin...)
	}
	e.calls = append(e.calls, MockCall{Dir: dir, Name: name, Args: append([]string{}, args...), Stdin: in})
}

// Exec executes a mocked command. Unmatched commands succeed with no output
// unless a fallback executor was configured.
func (e *MockExecutor) Exec(ctx context.Context, dir string, stdin []byte, name string, args ...string) (*Result, error) {
	e.recordCall(dir, name, args, stdin)

	if resp := e.findMatch(dir, name, args); resp != nil {
		if resp.Err != nil {
			return nil, resp.Err
		}
		return &Result{ExitCode: resp.ExitCode, Stdout: resp.Stdout, Stderr: resp.Stderr}, nil
	}

	if e.fallback != nil {
		return e.fallback.Exec(ctx, dir, stdin, name, args...)
	}

	return &Result{}, nil
}

// Ensure implementations satisfy the interface.
var _ CommandExecutor = (*RealExecutor)(nil)
var _ CommandExecutor = (*MockExecutor)(nil)
