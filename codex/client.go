package codex

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zhubert/codex-bridge/config"
	"github.com/zhubert/codex-bridge/errs"
	"github.com/zhubert/codex-bridge/logger"
)

// closeTimeout bounds how long Close waits for the agent to exit after
// shutdown before killing it.
var closeTimeout = 2 * time.Second

// Options configure a Client beyond its session config.
type Options struct {
	// CodexPath is the binary to run when the session config names none.
	CodexPath string

	// OnEvent is called from the stdout reader for every decoded event.
	// It must not block for long.
	OnEvent func(Event)
}

// Client is a Handle backed by a `codex proto` child process.
type Client struct {
	sessionID  string
	workingDir string
	log        *slog.Logger
	onEvent    func(Event)

	// writeMu serializes submissions on stdin.
	writeMu sync.Mutex
	stdin   io.WriteCloser
	closed  atomic.Bool

	cmd        *exec.Cmd
	sessionLog io.WriteCloser
	logMu      sync.Mutex

	readers  sync.WaitGroup
	waitDone chan struct{}
	waitErr  error
}

var _ Handle = (*Client)(nil)

// NewClient starts the agent for sessionID. The process is not bound to ctx:
// it lives until Close.
func NewClient(ctx context.Context, sessionID string, cfg config.SessionConfig, opts Options) (*Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errs.Wrap(err, errs.KindInvalidInput, "invalid session config")
	}
	if info, err := os.Stat(cfg.WorkingDirectory); err != nil || !info.IsDir() {
		return nil, errs.InvalidInput(fmt.Sprintf("working directory does not exist: %s", cfg.WorkingDirectory))
	}

	binary := cfg.CodexPath
	if binary == "" {
		binary = opts.CodexPath
	}
	if binary == "" {
		binary = config.DefaultCodexPath
	}

	log := logger.WithSession(sessionID).With("component", "codex")
	args := BuildArgs(cfg)
	log.Debug("starting codex", "command", binary+" "+strings.Join(args, " "), "workDir", cfg.WorkingDirectory)

	cmd := exec.Command(binary, args...)
	cmd.Dir = cfg.WorkingDirectory
	cmd.Env = os.Environ()
	if cfg.APIKey != "" {
		cmd.Env = append(cmd.Env, "OPENAI_API_KEY="+cfg.APIKey)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errs.ProcessIO(binary, "open stdin", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, errs.ProcessIO(binary, "open stdout", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, errs.ProcessIO(binary, "open stderr", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return nil, errs.ProcessSpawn(binary, err)
	}

	sessionLog, err := logger.OpenSessionLog(sessionID)
	if err != nil {
		log.Warn("session log unavailable", "error", err)
		sessionLog = nopWriteCloser{io.Discard}
	}

	c := &Client{
		sessionID:  sessionID,
		workingDir: cfg.WorkingDirectory,
		log:        log,
		onEvent:    opts.OnEvent,
		stdin:      stdin,
		cmd:        cmd,
		sessionLog: sessionLog,
		waitDone:   make(chan struct{}),
	}

	log.Info("codex started", "pid", cmd.Process.Pid)

	c.readers.Add(2)
	go func() {
		defer c.readers.Done()
		c.readEvents(stdout)
	}()
	go func() {
		defer c.readers.Done()
		c.drainStderr(stderr)
	}()
	go c.monitorExit()

	return c, nil
}

// WorkingDirectory implements Handle.
func (c *Client) WorkingDirectory() string {
	return c.workingDir
}

// SendUserInput implements Handle.
func (c *Client) SendUserInput(ctx context.Context, message string) error {
	return c.submit(ctx, UserInput(message))
}

// SendExecApproval implements Handle.
func (c *Client) SendExecApproval(ctx context.Context, approvalID string, approved bool) error {
	return c.submit(ctx, Approval(OpExecApproval, approvalID, approved))
}

// SendPatchApproval implements Handle.
func (c *Client) SendPatchApproval(ctx context.Context, approvalID string, approved bool) error {
	return c.submit(ctx, Approval(OpPatchApproval, approvalID, approved))
}

// Interrupt implements Handle.
func (c *Client) Interrupt(ctx context.Context) error {
	return c.submit(ctx, Interrupt())
}

// Close sends shutdown, closes stdin, and waits for the agent to exit. The
// process is killed if it outlives closeTimeout or ctx.
//
// The shutdown write runs on its own goroutine: an agent that stopped
// reading stdin can leave it blocked on a full pipe, and the kill below is
// what unblocks it.
func (c *Client) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	go func() {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		if err := c.writeLocked(Shutdown()); err != nil {
			c.log.Debug("shutdown submission failed", "error", err)
		}
		c.stdin.Close()
	}()

	select {
	case <-c.waitDone:
		c.log.Debug("codex exited gracefully")
	case <-time.After(closeTimeout):
		c.log.Debug("force killing codex")
		c.cmd.Process.Kill()
		<-c.waitDone
	case <-ctx.Done():
		c.cmd.Process.Kill()
		<-c.waitDone
	}

	c.logMu.Lock()
	err := c.sessionLog.Close()
	c.sessionLog = nil
	c.logMu.Unlock()
	if err != nil {
		c.log.Debug("closing session log", "error", err)
	}

	c.log.Info("codex session closed")
	return nil
}

// Done is closed once the agent process has exited.
func (c *Client) Done() <-chan struct{} {
	return c.waitDone
}

func (c *Client) submit(ctx context.Context, sub Submission) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed.Load() {
		return errors.New("session is closed")
	}
	return c.writeLocked(sub)
}

func (c *Client) writeLocked(sub Submission) error {
	line, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	if _, err := c.stdin.Write(line); err != nil {
		return errs.ProcessIO("codex", "write submission", err)
	}
	c.appendLog(">> ", line)
	return nil
}

// readEvents decodes one event per stdout line until the pipe closes.
// bufio.Reader is used over Scanner so long lines are never truncated.
func (c *Client) readEvents(stdout io.Reader) {
	reader := bufio.NewReader(stdout)
	for {
		line, err := reader.ReadBytes('\n')
		if trimmed := strings.TrimSpace(string(line)); trimmed != "" {
			c.appendLog("<< ", line)
			c.dispatch([]byte(trimmed))
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				c.log.Debug("stdout read ended", "error", err)
			}
			return
		}
	}
}

func (c *Client) dispatch(line []byte) {
	var ev Event
	if err := json.Unmarshal(line, &ev); err != nil {
		c.log.Warn("undecodable event", "error", err, "line", string(line))
		return
	}
	ev.SessionID = c.sessionID
	if c.onEvent != nil {
		c.onEvent(ev)
	}
}

func (c *Client) drainStderr(stderr io.Reader) {
	reader := bufio.NewReader(stderr)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			c.appendLog("!! ", line)
			c.log.Debug("codex stderr", "line", strings.TrimRight(string(line), "\r\n"))
		}
		if err != nil {
			return
		}
	}
}

// monitorExit is the sole caller of cmd.Wait. Readers finish first so no
// output is lost when Wait closes the pipes.
func (c *Client) monitorExit() {
	c.readers.Wait()
	c.waitErr = c.cmd.Wait()
	c.log.Debug("codex exited", "error", c.waitErr)
	close(c.waitDone)
}

func (c *Client) appendLog(prefix string, line []byte) {
	c.logMu.Lock()
	defer c.logMu.Unlock()
	if c.sessionLog == nil {
		return
	}
	c.sessionLog.Write([]byte(prefix))
	c.sessionLog.Write(line)
	if len(line) == 0 || line[len(line)-1] != '\n' {
		c.sessionLog.Write([]byte{'\n'})
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
