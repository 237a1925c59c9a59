package registry

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhubert/codex-bridge/codex"
	"github.com/zhubert/codex-bridge/config"
	"github.com/zhubert/codex-bridge/errs"
	pexec "github.com/zhubert/codex-bridge/exec"
	"github.com/zhubert/codex-bridge/git"
	"github.com/zhubert/codex-bridge/logger"
)

func TestMain(m *testing.M) {
	logger.Reset()
	logger.Init(os.DevNull)

	code := m.Run()

	logger.Reset()
	os.Exit(code)
}

var ctx = context.Background()

// handleRecorder collects every MockHandle a factory builds.
type handleRecorder struct {
	mu      sync.Mutex
	handles []*codex.MockHandle
}

func (h *handleRecorder) add(m *codex.MockHandle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handles = append(h.handles, m)
}

func (h *handleRecorder) all() []*codex.MockHandle {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*codex.MockHandle{}, h.handles...)
}

func newTestRegistry(t *testing.T) (*Registry, *handleRecorder, *pexec.MockExecutor) {
	t.Helper()
	rec := &handleRecorder{}
	mock := pexec.NewMockExecutor(nil)
	r := New(codex.MockFactory(rec.add), git.NewGitServiceWithExecutor(mock))
	return r, rec, mock
}

func startSession(t *testing.T, r *Registry, id, dir string) {
	t.Helper()
	require.NoError(t, r.Start(ctx, id, config.SessionConfig{WorkingDirectory: dir}))
}

func TestStart_Idempotent(t *testing.T) {
	r, rec, _ := newTestRegistry(t)

	startSession(t, r, "s1", "/repo")
	require.NoError(t, r.Start(ctx, "s1", config.SessionConfig{WorkingDirectory: "/elsewhere"}))

	assert.Equal(t, []string{"s1"}, r.List())
	assert.Len(t, rec.all(), 1, "second start must not build a handle")

	dir, err := r.WorkingDirectory("s1")
	require.NoError(t, err)
	assert.Equal(t, "/repo", dir, "config of the second start is ignored")
}

func TestStart_FactoryFailure(t *testing.T) {
	boom := errors.New("codex not installed")
	r := New(func(ctx context.Context, id string, cfg config.SessionConfig) (codex.Handle, error) {
		return nil, boom
	}, git.NewGitServiceWithExecutor(pexec.NewMockExecutor(nil)))

	err := r.Start(ctx, "s1", config.SessionConfig{WorkingDirectory: "/repo"})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindSessionStart))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "Failed to start session: codex not installed", err.Error())
	assert.Empty(t, r.List())
}

func TestStart_MergesDefaults(t *testing.T) {
	var got config.SessionConfig
	r := New(func(ctx context.Context, id string, cfg config.SessionConfig) (codex.Handle, error) {
		got = cfg
		return codex.NewMockHandle(id, cfg.WorkingDirectory), nil
	}, git.NewGitServiceWithExecutor(pexec.NewMockExecutor(nil)))
	r.SetDefaults(config.SessionConfig{Model: "o3", SandboxMode: "read-only"})

	require.NoError(t, r.Start(ctx, "s1", config.SessionConfig{WorkingDirectory: "/repo", Model: "gpt-5"}))

	assert.Equal(t, "gpt-5", got.Model)
	assert.Equal(t, "read-only", got.SandboxMode)
}

func TestStart_ConcurrentSameID(t *testing.T) {
	var built atomic.Int32
	release := make(chan struct{})
	var handles []*codex.MockHandle
	var mu sync.Mutex

	r := New(func(ctx context.Context, id string, cfg config.SessionConfig) (codex.Handle, error) {
		built.Add(1)
		<-release
		h := codex.NewMockHandle(id, cfg.WorkingDirectory)
		mu.Lock()
		handles = append(handles, h)
		mu.Unlock()
		return h, nil
	}, git.NewGitServiceWithExecutor(pexec.NewMockExecutor(nil)))

	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.Start(ctx, "dup", config.SessionConfig{WorkingDirectory: "/repo"}))
		}()
	}

	// Both starts are inside the factory before either may insert.
	require.Eventually(t, func() bool { return built.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, []string{"dup"}, r.List())

	closed := 0
	for _, h := range handles {
		closed += h.CloseCount()
	}
	assert.Equal(t, 1, closed, "exactly the losing handle is closed")
}

func TestStart_ConcurrentDistinctIDs(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ids := []string{"a", "b", "c", "d", "e", "f", "g", "h"}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.Start(ctx, id, config.SessionConfig{WorkingDirectory: "/repo/" + id}))
		}()
	}
	wg.Wait()

	assert.Equal(t, ids, r.List())
}

func TestOperations_SessionNotFound(t *testing.T) {
	r, _, mock := newTestRegistry(t)
	startSession(t, r, "live", "/repo")

	ops := map[string]func() error{
		"send":         func() error { return r.Send(ctx, "ghost", "hi") },
		"approveExec":  func() error { return r.ApproveExecution(ctx, "ghost", "a1", true) },
		"approvePatch": func() error { return r.ApprovePatch(ctx, "ghost", "p1", false) },
		"pause":        func() error { return r.Pause(ctx, "ghost") },
		"close":        func() error { return r.Close(ctx, "ghost") },
		"workingDir":   func() error { _, err := r.WorkingDirectory("ghost"); return err },
		"diff":         func() error { _, err := r.CollectWorktreeDiff(ctx, "ghost"); return err },
		"summary":      func() error { _, err := r.SnapshotWorktreeSummary(ctx, "ghost"); return err },
		"revert":       func() error { return r.RevertFileDiff(ctx, "ghost", "diff --git a/x b/x\n") },
		"subset": func() error {
			_, err := r.CollectWorktreeDiffSubset(ctx, "ghost", []git.DiffTarget{{Path: "x", Status: "M"}})
			return err
		},
	}

	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			err := op()
			require.Error(t, err)
			assert.True(t, errs.Is(err, errs.KindSessionNotFound), "got %v", err)
			assert.Equal(t, "Session not found", err.Error())
			assert.Equal(t, []string{"live"}, r.List())
		})
	}
	assert.Empty(t, mock.GetCalls(), "no tool may run for an unknown session")
}

func TestForwarding(t *testing.T) {
	r, rec, _ := newTestRegistry(t)
	startSession(t, r, "s1", "/repo")

	require.NoError(t, r.Send(ctx, "s1", "hello"))
	require.NoError(t, r.ApproveExecution(ctx, "s1", "exec-1", true))
	require.NoError(t, r.ApprovePatch(ctx, "s1", "patch-1", false))
	require.NoError(t, r.Pause(ctx, "s1"))

	assert.Equal(t, []string{"s1"}, r.List(), "pause keeps the session registered")

	calls := rec.all()[0].Calls()
	require.Len(t, calls, 4)
	assert.Equal(t, codex.MockCall{Method: codex.OpUserInput, Message: "hello"}, calls[0])
	assert.Equal(t, codex.MockCall{Method: codex.OpExecApproval, ApprovalID: "exec-1", Approved: true}, calls[1])
	assert.Equal(t, codex.MockCall{Method: codex.OpPatchApproval, ApprovalID: "patch-1", Approved: false}, calls[2])
	assert.Equal(t, codex.OpInterrupt, calls[3].Method)
}

func TestForwarding_HandleErrors(t *testing.T) {
	r, rec, _ := newTestRegistry(t)
	startSession(t, r, "s1", "/repo")
	h := rec.all()[0]
	h.SendErr = errors.New("broken pipe")
	h.InterruptErr = errors.New("broken pipe")

	err := r.Send(ctx, "s1", "hello")
	assert.True(t, errs.Is(err, errs.KindSessionIO))
	assert.Equal(t, "Failed to send message: broken pipe", err.Error())

	err = r.Pause(ctx, "s1")
	assert.Equal(t, "Failed to pause session: broken pipe", err.Error())
}

func TestClose(t *testing.T) {
	r, rec, _ := newTestRegistry(t)
	startSession(t, r, "s1", "/repo")

	require.NoError(t, r.Close(ctx, "s1"))
	assert.Empty(t, r.List())
	assert.Equal(t, 1, rec.all()[0].CloseCount())

	err := r.Close(ctx, "s1")
	assert.True(t, errs.Is(err, errs.KindSessionNotFound))

	// A closed id can be started again as a fresh session.
	startSession(t, r, "s1", "/repo")
	assert.Len(t, rec.all(), 2)
}

func TestClose_FinalizeErrorStillRemoves(t *testing.T) {
	r, rec, _ := newTestRegistry(t)
	startSession(t, r, "s1", "/repo")
	rec.all()[0].CloseErr = errors.New("kill failed")

	err := r.Close(ctx, "s1")
	require.Error(t, err)
	assert.Equal(t, "Failed to close session: kill failed", err.Error())
	assert.Empty(t, r.List())
}

func TestCloseAll(t *testing.T) {
	r, rec, _ := newTestRegistry(t)
	startSession(t, r, "a", "/a")
	startSession(t, r, "b", "/b")

	r.CloseAll(ctx)

	assert.Empty(t, r.List())
	for _, h := range rec.all() {
		assert.Equal(t, 1, h.CloseCount())
	}
}

func TestWorktreeAccessors_UseSessionDirectory(t *testing.T) {
	r, _, mock := newTestRegistry(t)
	startSession(t, r, "s1", "/work/s1")
	mock.AddExactMatch("git", []string{"rev-parse", "--show-toplevel"}, pexec.MockResponse{Stdout: []byte("/work/s1\n")})
	mock.AddExactMatch("git", []string{"diff", "--no-color", "--unified=3", "HEAD"}, pexec.MockResponse{
		ExitCode: 1,
		Stdout:   []byte("diff --git a/f b/f\n"),
	})

	diff, err := r.CollectWorktreeDiff(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "diff --git a/f b/f", diff)

	for _, call := range mock.GetCalls() {
		assert.Equal(t, "/work/s1", call.Dir)
	}
}

func TestWorktreeAccessors_EmptyInputShortCircuits(t *testing.T) {
	r, _, mock := newTestRegistry(t)

	diff, err := r.CollectWorktreeDiffSubset(ctx, "ghost", nil)
	require.NoError(t, err)
	assert.Equal(t, "", diff)

	require.NoError(t, r.RevertFileDiff(ctx, "ghost", "  \n\t"))
	assert.Empty(t, mock.GetCalls())
}

func TestWorktreeAccessors_SummaryAndRevert(t *testing.T) {
	r, _, mock := newTestRegistry(t)
	startSession(t, r, "s1", "/repo")
	mock.AddExactMatch("git", []string{"diff", "--name-status", "HEAD"}, pexec.MockResponse{Stdout: []byte("M\ta.txt\n")})
	mock.AddExactMatch("git", []string{"ls-files", "--others", "--exclude-standard"}, pexec.MockResponse{Stdout: []byte("new.txt\n")})

	summary, err := r.SnapshotWorktreeSummary(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []git.TrackedDiffEntry{{Status: "M", Path: "a.txt"}}, summary.Tracked)
	assert.Equal(t, []string{"new.txt"}, summary.Untracked)

	require.NoError(t, r.RevertFileDiff(ctx, "s1", "diff --git a/a.txt b/a.txt\n"))
	calls := mock.GetCalls()
	last := calls[len(calls)-1]
	assert.Equal(t, "git", last.Name)
	assert.Equal(t, "apply", last.Args[0])
}

func TestDiffProceedsWhileCloseInFlight(t *testing.T) {
	r, rec, mock := newTestRegistry(t)
	startSession(t, r, "a", "/a")
	startSession(t, r, "b", "/b")

	gate := make(chan struct{})
	rec.all()[1].CloseGate = gate

	closeDone := make(chan error, 1)
	go func() { closeDone <- r.Close(ctx, "b") }()

	// b is removed before its finalizer runs.
	require.Eventually(t, func() bool { return len(r.List()) == 1 }, 2*time.Second, 5*time.Millisecond)

	mock.AddExactMatch("git", []string{"rev-parse", "--show-toplevel"}, pexec.MockResponse{Stdout: []byte("/a\n")})
	diffDone := make(chan struct{})
	go func() {
		defer close(diffDone)
		_, err := r.CollectWorktreeDiff(ctx, "a")
		assert.NoError(t, err)
	}()

	select {
	case <-diffDone:
	case <-time.After(2 * time.Second):
		t.Fatal("diff for a blocked behind close of b")
	}

	select {
	case <-closeDone:
		t.Fatal("close of b finished before its handle was released")
	default:
	}

	close(gate)
	require.NoError(t, <-closeDone)
}

func TestCloseWaitsForInFlightSend(t *testing.T) {
	r, rec, _ := newTestRegistry(t)
	startSession(t, r, "a", "/a")
	h := rec.all()[0]
	gate := make(chan struct{})
	h.SendGate = gate

	sendDone := make(chan error, 1)
	go func() { sendDone <- r.Send(ctx, "a", "hello") }()
	require.Eventually(t, func() bool { return len(h.Calls()) == 1 }, 2*time.Second, 5*time.Millisecond)

	closeDone := make(chan error, 1)
	go func() { closeDone <- r.Close(ctx, "a") }()

	select {
	case err := <-closeDone:
		t.Fatalf("close completed while send was still in flight: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	require.NoError(t, <-sendDone)
	require.NoError(t, <-closeDone)
	assert.Empty(t, r.List())

	calls := h.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, codex.OpUserInput, calls[0].Method)
	assert.Equal(t, codex.OpShutdown, calls[1].Method)
}

func TestStart_RejectsPathLikeIDs(t *testing.T) {
	r, rec, _ := newTestRegistry(t)

	for _, id := range []string{"", "   ", "../../tmp/evil", "a/b", `a\b`, "..", "x..y"} {
		err := r.Start(ctx, id, config.SessionConfig{WorkingDirectory: "/repo"})
		require.Error(t, err, "id %q", id)
		assert.True(t, errs.Is(err, errs.KindInvalidInput), "id %q: %v", id, err)
	}
	assert.Empty(t, rec.all(), "no handle may be built for a rejected id")
	assert.Empty(t, r.List())

	startSession(t, r, "s1.v2", "/repo")
	assert.Equal(t, []string{"s1.v2"}, r.List())
}

func TestStart_InvalidInputKeepsKind(t *testing.T) {
	r := New(func(ctx context.Context, id string, cfg config.SessionConfig) (codex.Handle, error) {
		return nil, errs.InvalidInput("working directory does not exist: /missing")
	}, git.NewGitServiceWithExecutor(pexec.NewMockExecutor(nil)))

	err := r.Start(ctx, "s1", config.SessionConfig{WorkingDirectory: "/missing"})
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidInput, errs.KindOf(err))
	assert.False(t, errs.Is(err, errs.KindSessionStart))
	assert.Empty(t, r.List())
}

func TestExitedSessionIsRemoved(t *testing.T) {
	r, rec, _ := newTestRegistry(t)
	startSession(t, r, "a", "/a")
	startSession(t, r, "b", "/b")
	exited := rec.all()[0]

	exited.Exit()

	require.Eventually(t, func() bool {
		ids := r.List()
		return len(ids) == 1 && ids[0] == "b"
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return exited.CloseCount() == 1 }, 2*time.Second, 5*time.Millisecond,
		"an exited session is finalized once")

	err := r.Send(ctx, "a", "hello")
	assert.True(t, errs.Is(err, errs.KindSessionNotFound))
}

func TestExitAfterRestartKeepsNewSession(t *testing.T) {
	r, rec, _ := newTestRegistry(t)
	startSession(t, r, "a", "/a")
	first := rec.all()[0]

	require.NoError(t, r.Close(ctx, "a"))
	startSession(t, r, "a", "/a")
	second := rec.all()[1]

	// The first handle's exit was already observed; it must not evict the
	// session started in its place.
	first.Exit()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"a"}, r.List())
	assert.Equal(t, 0, second.CloseCount())
}
