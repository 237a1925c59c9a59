// Package registry owns the live codex sessions and mediates worktree
// operations on their working directories.
//
// A single mutex guards the session map. Forwarding a message, an approval or
// an interrupt holds it for the duration of the call, so those operations are
// ordered with every Start, Close and List. Handle construction, handle
// finalization and all git work run with the lock released, so a slow diff
// or a slow shutdown never blocks unrelated sessions.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/zhubert/codex-bridge/codex"
	"github.com/zhubert/codex-bridge/config"
	"github.com/zhubert/codex-bridge/errs"
	"github.com/zhubert/codex-bridge/git"
	"github.com/zhubert/codex-bridge/logger"
)

// Registry maps session identifiers to live handles.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]codex.Handle

	factory  codex.Factory
	git      *git.GitService
	defaults config.SessionConfig
	log      *slog.Logger
}

// New creates an empty registry that builds handles with factory and runs
// worktree operations through gitSvc.
func New(factory codex.Factory, gitSvc *git.GitService) *Registry {
	return &Registry{
		sessions: make(map[string]codex.Handle),
		factory:  factory,
		git:      gitSvc,
		log:      logger.WithComponent("registry"),
	}
}

// SetDefaults sets the session config merged under every Start.
func (r *Registry) SetDefaults(defaults config.SessionConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults = defaults.Clone()
}

// lookup returns the handle for id under the lock.
func (r *Registry) lookup(id string) (codex.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.sessions[id]
	if !ok {
		return nil, errs.SessionNotFound(id)
	}
	return h, nil
}

// checkID rejects identifiers that cannot name a session. Each session gets
// its own log file, so the id must be a single path component.
func checkID(id string) error {
	if strings.TrimSpace(id) == "" {
		return errs.InvalidInput("sessionId is required")
	}
	if strings.ContainsAny(id, "/\\\x00") || strings.Contains(id, "..") {
		return errs.InvalidInput(fmt.Sprintf("invalid sessionId %q: must not contain path separators or ..", id))
	}
	return nil
}

// forward runs fn against the session's handle with the lock held.
func (r *Registry) forward(id, op string, fn func(codex.Handle) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.sessions[id]
	if !ok {
		return errs.SessionNotFound(id)
	}
	if err := fn(h); err != nil {
		return errs.SessionIO(id, op, err)
	}
	return nil
}

// Start creates the session if it does not exist. Starting an existing
// session is a successful no-op and its config is ignored.
//
// The handle is built with the lock released. If a concurrent Start for the
// same id inserts first, the handle built here is closed and discarded.
// Invalid input reported by the factory keeps its kind.
func (r *Registry) Start(ctx context.Context, id string, cfg config.SessionConfig) error {
	if err := checkID(id); err != nil {
		return err
	}
	log := r.log.With("sessionID", id)

	r.mu.Lock()
	if _, ok := r.sessions[id]; ok {
		r.mu.Unlock()
		log.Debug("session already exists, skipping start")
		return nil
	}
	merged := cfg.Merge(r.defaults)
	r.mu.Unlock()

	handle, err := r.factory(ctx, id, merged)
	if err != nil {
		log.Error("failed to start session", "error", err)
		if errs.Is(err, errs.KindInvalidInput) {
			return err
		}
		return errs.SessionStart(id, err)
	}

	r.mu.Lock()
	_, lost := r.sessions[id]
	if !lost {
		r.sessions[id] = handle
	}
	count := len(r.sessions)
	r.mu.Unlock()

	if lost {
		log.Info("concurrent start won the race, discarding duplicate handle")
		if err := handle.Close(ctx); err != nil {
			log.Warn("failed to close duplicate handle", "error", err)
		}
		return nil
	}

	go r.reapOnExit(id, handle)
	log.Info("session started", "workDir", handle.WorkingDirectory(), "sessions", count)
	return nil
}

// reapOnExit drops the session once its process has exited, unless Close
// already removed it. An agent that crashed would otherwise stay listed and
// fail every send.
func (r *Registry) reapOnExit(id string, h codex.Handle) {
	<-h.Done()

	r.mu.Lock()
	cur, ok := r.sessions[id]
	owned := ok && cur == h
	if owned {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !owned {
		return
	}
	r.log.Warn("session process exited, removing session", "sessionID", id)
	// Releases the session log; the process is already gone.
	if err := h.Close(context.Background()); err != nil {
		r.log.Debug("finalizing exited session", "sessionID", id, "error", err)
	}
}

// Send forwards a user message to the session.
func (r *Registry) Send(ctx context.Context, id, message string) error {
	return r.forward(id, "send message", func(h codex.Handle) error {
		return h.SendUserInput(ctx, message)
	})
}

// ApproveExecution answers a pending command execution request.
func (r *Registry) ApproveExecution(ctx context.Context, id, approvalID string, approved bool) error {
	return r.forward(id, "send approval", func(h codex.Handle) error {
		return h.SendExecApproval(ctx, approvalID, approved)
	})
}

// ApprovePatch answers a pending apply-patch request.
func (r *Registry) ApprovePatch(ctx context.Context, id, approvalID string, approved bool) error {
	r.log.Debug("approve patch", "sessionID", id, "approvalID", approvalID, "approved", approved)
	return r.forward(id, "send patch approval", func(h codex.Handle) error {
		return h.SendPatchApproval(ctx, approvalID, approved)
	})
}

// Pause interrupts the session's current turn. The session stays registered.
func (r *Registry) Pause(ctx context.Context, id string) error {
	return r.forward(id, "pause session", func(h codex.Handle) error {
		return h.Interrupt(ctx)
	})
}

// Close removes the session and finalizes its handle. The entry stays
// removed even if finalizing fails.
func (r *Registry) Close(ctx context.Context, id string) error {
	r.mu.Lock()
	h, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return errs.SessionNotFound(id)
	}
	if err := h.Close(ctx); err != nil {
		return errs.SessionIO(id, "close session", err)
	}
	r.log.Info("session closed", "sessionID", id)
	return nil
}

// CloseAll closes every session. Errors are logged, not returned.
func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.Lock()
	handles := r.sessions
	r.sessions = make(map[string]codex.Handle)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for id, h := range handles {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h.Close(ctx); err != nil {
				r.log.Warn("failed to close session", "sessionID", id, "error", err)
			}
		}()
	}
	wg.Wait()
}

// List returns the live session identifiers, sorted.
func (r *Registry) List() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	slices.Sort(ids)
	return ids
}

// WorkingDirectory returns a copy of the session's working directory.
func (r *Registry) WorkingDirectory(id string) (string, error) {
	h, err := r.lookup(id)
	if err != nil {
		return "", err
	}
	return h.WorkingDirectory(), nil
}

// CollectWorktreeDiff returns the full worktree diff for the session.
func (r *Registry) CollectWorktreeDiff(ctx context.Context, id string) (string, error) {
	dir, err := r.WorkingDirectory(id)
	if err != nil {
		return "", err
	}
	return r.git.WorktreeDiff(ctx, dir)
}

// CollectWorktreeDiffSubset diffs only targets. An empty target list returns
// "" without looking the session up.
func (r *Registry) CollectWorktreeDiffSubset(ctx context.Context, id string, targets []git.DiffTarget) (string, error) {
	if len(targets) == 0 {
		return "", nil
	}
	dir, err := r.WorkingDirectory(id)
	if err != nil {
		return "", err
	}
	return r.git.WorktreeDiffSubset(ctx, dir, targets)
}

// SnapshotWorktreeSummary lists the session's tracked and untracked changes.
func (r *Registry) SnapshotWorktreeSummary(ctx context.Context, id string) (*git.WorktreeSummary, error) {
	dir, err := r.WorkingDirectory(id)
	if err != nil {
		return nil, err
	}
	return r.git.WorktreeSummary(ctx, dir)
}

// RevertFileDiff reverse-applies diff in the session's working directory. A
// blank diff succeeds without looking the session up.
func (r *Registry) RevertFileDiff(ctx context.Context, id, diff string) error {
	if strings.TrimSpace(diff) == "" {
		return nil
	}
	dir, err := r.WorkingDirectory(id)
	if err != nil {
		return err
	}
	return r.git.RevertPatch(ctx, dir, diff)
}
