// Package codex drives a single interactive codex agent process.
//
// A session is one long-running `codex proto` child. Requests are written to
// its stdin as newline-delimited JSON submissions and the agent answers with
// newline-delimited JSON events on stdout:
//
//	stdin:  {"id":"<uuid>","op":{"type":"user_input","items":[...]}}
//	stdout: {"id":"<uuid>","msg":{"type":"agent_message","message":"..."}}
//
// Handle is the contract the session registry depends on. Client is the real
// implementation; MockHandle records calls for tests.
package codex

import (
	"context"
	"encoding/json"

	"github.com/zhubert/codex-bridge/config"
)

// Handle is a live interactive agent session.
type Handle interface {
	// SendUserInput forwards a user message to the agent.
	SendUserInput(ctx context.Context, message string) error

	// SendExecApproval answers a pending command execution request.
	SendExecApproval(ctx context.Context, approvalID string, approved bool) error

	// SendPatchApproval answers a pending apply-patch request.
	SendPatchApproval(ctx context.Context, approvalID string, approved bool) error

	// Interrupt aborts the agent's current turn. The session stays usable.
	Interrupt(ctx context.Context) error

	// Close shuts the session down and releases the process. Calling Close
	// more than once is a no-op.
	Close(ctx context.Context) error

	// WorkingDirectory is the directory the session was started in.
	WorkingDirectory() string

	// Done is closed once the agent process has exited, whether through
	// Close or on its own.
	Done() <-chan struct{}
}

// Factory constructs a started Handle for a session.
type Factory func(ctx context.Context, sessionID string, cfg config.SessionConfig) (Handle, error)

// Event is one message emitted by the agent.
type Event struct {
	SessionID string          `json:"sessionId"`
	ID        string          `json:"id"`
	Msg       json.RawMessage `json:"msg"`
}

// Type returns msg.type, or "" if the message has none.
func (e Event) Type() string {
	var head struct {
		Type string `json:"type"`
	}
	if len(e.Msg) == 0 || json.Unmarshal(e.Msg, &head) != nil {
		return ""
	}
	return head.Type
}
