// Package bridge exposes the session registry and worktree operations as
// named commands over HTTP and WebSocket.
//
// Every command takes a JSON object of camelCase arguments and produces a
// JSON-encodable result. Errors stay tagged (see errs) until a transport
// renders them.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/zhubert/codex-bridge/config"
	"github.com/zhubert/codex-bridge/errs"
	pexec "github.com/zhubert/codex-bridge/exec"
	"github.com/zhubert/codex-bridge/git"
	"github.com/zhubert/codex-bridge/logger"
	"github.com/zhubert/codex-bridge/registry"
)

// Command names.
const (
	CmdStartSession       = "start_codex_session"
	CmdSendMessage        = "send_message"
	CmdApproveExecution   = "approve_execution"
	CmdApprovePatch       = "approve_patch"
	CmdPauseSession       = "pause_session"
	CmdCloseSession       = "close_session"
	CmdRunningSessions    = "get_running_sessions"
	CmdWorktreeDiff       = "collect_worktree_diff"
	CmdWorktreeDiffSubset = "collect_worktree_diff_subset"
	CmdWorktreeSummary    = "snapshot_worktree_summary"
	CmdRevertFileDiff     = "revert_file_diff"
	CmdCodexVersion       = "check_codex_version"
)

type handlerFunc func(ctx context.Context, args json.RawMessage) (any, error)

// Dispatcher routes command names to registry operations.
type Dispatcher struct {
	registry  *registry.Registry
	executor  pexec.CommandExecutor
	codexPath string
	handlers  map[string]handlerFunc
	log       *slog.Logger
}

// NewDispatcher creates a dispatcher over reg. executor and codexPath are
// used by check_codex_version.
func NewDispatcher(reg *registry.Registry, executor pexec.CommandExecutor, codexPath string) *Dispatcher {
	if codexPath == "" {
		codexPath = config.DefaultCodexPath
	}
	d := &Dispatcher{
		registry:  reg,
		executor:  executor,
		codexPath: codexPath,
		log:       logger.WithComponent("bridge"),
	}
	d.handlers = map[string]handlerFunc{
		CmdStartSession:       d.startSession,
		CmdSendMessage:        d.sendMessage,
		CmdApproveExecution:   d.approveExecution,
		CmdApprovePatch:       d.approvePatch,
		CmdPauseSession:       d.pauseSession,
		CmdCloseSession:       d.closeSession,
		CmdRunningSessions:    d.runningSessions,
		CmdWorktreeDiff:       d.worktreeDiff,
		CmdWorktreeDiffSubset: d.worktreeDiffSubset,
		CmdWorktreeSummary:    d.worktreeSummary,
		CmdRevertFileDiff:     d.revertFileDiff,
		CmdCodexVersion:       d.codexVersion,
	}
	return d
}

// Commands returns the supported command names, sorted.
func (d *Dispatcher) Commands() []string {
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Invoke runs command with its JSON arguments. A nil result means the command
// has nothing to return.
func (d *Dispatcher) Invoke(ctx context.Context, command string, args json.RawMessage) (any, error) {
	handler, ok := d.handlers[command]
	if !ok {
		return nil, errs.InvalidInput(fmt.Sprintf("unknown command: %s", command))
	}

	result, err := handler(ctx, args)
	if err != nil {
		d.log.Debug("command failed", "command", command, "kind", errs.KindOf(err), "error", err)
		return nil, err
	}
	return result, nil
}

// decodeArgs unmarshals args into v. Missing or null args decode as {}.
func decodeArgs(command string, args json.RawMessage, v any) error {
	trimmed := bytes.TrimSpace(args)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(trimmed, v); err != nil {
		return errs.InvalidInput(fmt.Sprintf("invalid arguments for %s: %v", command, err))
	}
	return nil
}

type sessionArgs struct {
	SessionID string `json:"sessionId"`
}

type startArgs struct {
	SessionID string               `json:"sessionId"`
	Config    config.SessionConfig `json:"config"`
}

type messageArgs struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

type approvalArgs struct {
	SessionID  string `json:"sessionId"`
	ApprovalID string `json:"approvalId"`
	Approved   bool   `json:"approved"`
}

type subsetArgs struct {
	SessionID string           `json:"sessionId"`
	Files     []git.DiffTarget `json:"files"`
}

type revertArgs struct {
	SessionID string `json:"sessionId"`
	DiffPatch string `json:"diffPatch"`
}

func (d *Dispatcher) startSession(ctx context.Context, raw json.RawMessage) (any, error) {
	var args startArgs
	if err := decodeArgs(CmdStartSession, raw, &args); err != nil {
		return nil, err
	}
	if strings.TrimSpace(args.SessionID) == "" {
		return nil, errs.InvalidInput("sessionId is required")
	}
	return nil, d.registry.Start(ctx, args.SessionID, args.Config)
}

func (d *Dispatcher) sendMessage(ctx context.Context, raw json.RawMessage) (any, error) {
	var args messageArgs
	if err := decodeArgs(CmdSendMessage, raw, &args); err != nil {
		return nil, err
	}
	return nil, d.registry.Send(ctx, args.SessionID, args.Message)
}

func (d *Dispatcher) approveExecution(ctx context.Context, raw json.RawMessage) (any, error) {
	var args approvalArgs
	if err := decodeArgs(CmdApproveExecution, raw, &args); err != nil {
		return nil, err
	}
	return nil, d.registry.ApproveExecution(ctx, args.SessionID, args.ApprovalID, args.Approved)
}

func (d *Dispatcher) approvePatch(ctx context.Context, raw json.RawMessage) (any, error) {
	var args approvalArgs
	if err := decodeArgs(CmdApprovePatch, raw, &args); err != nil {
		return nil, err
	}
	return nil, d.registry.ApprovePatch(ctx, args.SessionID, args.ApprovalID, args.Approved)
}

func (d *Dispatcher) pauseSession(ctx context.Context, raw json.RawMessage) (any, error) {
	var args sessionArgs
	if err := decodeArgs(CmdPauseSession, raw, &args); err != nil {
		return nil, err
	}
	return nil, d.registry.Pause(ctx, args.SessionID)
}

func (d *Dispatcher) closeSession(ctx context.Context, raw json.RawMessage) (any, error) {
	var args sessionArgs
	if err := decodeArgs(CmdCloseSession, raw, &args); err != nil {
		return nil, err
	}
	return nil, d.registry.Close(ctx, args.SessionID)
}

func (d *Dispatcher) runningSessions(ctx context.Context, raw json.RawMessage) (any, error) {
	return d.registry.List(), nil
}

func (d *Dispatcher) worktreeDiff(ctx context.Context, raw json.RawMessage) (any, error) {
	var args sessionArgs
	if err := decodeArgs(CmdWorktreeDiff, raw, &args); err != nil {
		return nil, err
	}
	return d.registry.CollectWorktreeDiff(ctx, args.SessionID)
}

func (d *Dispatcher) worktreeDiffSubset(ctx context.Context, raw json.RawMessage) (any, error) {
	var args subsetArgs
	if err := decodeArgs(CmdWorktreeDiffSubset, raw, &args); err != nil {
		return nil, err
	}
	return d.registry.CollectWorktreeDiffSubset(ctx, args.SessionID, args.Files)
}

func (d *Dispatcher) worktreeSummary(ctx context.Context, raw json.RawMessage) (any, error) {
	var args sessionArgs
	if err := decodeArgs(CmdWorktreeSummary, raw, &args); err != nil {
		return nil, err
	}
	return d.registry.SnapshotWorktreeSummary(ctx, args.SessionID)
}

func (d *Dispatcher) revertFileDiff(ctx context.Context, raw json.RawMessage) (any, error) {
	var args revertArgs
	if err := decodeArgs(CmdRevertFileDiff, raw, &args); err != nil {
		return nil, err
	}
	return nil, d.registry.RevertFileDiff(ctx, args.SessionID, args.DiffPatch)
}

// codexVersion runs `codex -V` and returns its trimmed stdout.
func (d *Dispatcher) codexVersion(ctx context.Context, raw json.RawMessage) (any, error) {
	res, err := d.executor.Exec(ctx, "", nil, d.codexPath, "-V")
	if err != nil {
		return nil, errs.Wrap(err, errs.KindProcessSpawn, "Failed to execute codex binary")
	}
	if !res.Success() {
		return nil, errs.New(errs.KindToolExecution,
			"Codex binary returned error: "+strings.TrimSpace(string(res.Stderr))).
			WithDetail("exitCode", res.ExitCode)
	}
	return strings.TrimSpace(string(res.Stdout)), nil
}
