// Package notification sends desktop notifications when a codex session
// finishes a turn. It uses beeep, which covers macOS, Linux and Windows.
package notification

import (
	"sync"

	"github.com/gen2brain/beeep"

	"github.com/zhubert/codex-bridge/codex"
	"github.com/zhubert/codex-bridge/logger"
)

const appName = "codex-bridge"

// notifyFunc is swapped out in tests so they do not pop real notifications.
var notifyFunc = func(title, message string, icon any) error {
	return beeep.Notify(title, message, icon)
}

// Send sends a desktop notification with the given title and message.
func Send(title, message string) error {
	log := logger.WithComponent("notification")
	log.Debug("sending notification", "title", title, "message", message)
	// Empty icon lets beeep pick the platform default
	err := notifyFunc(title, message, "")
	if err != nil {
		log.Warn("failed to send notification", "error", err)
	}
	return err
}

// SessionCompleted notifies that a session finished its current task.
func SessionCompleted(sessionID string) error {
	return Send(appName, "Session "+sessionID+" is ready")
}

// ApprovalRequested notifies that a session is blocked on a decision.
func ApprovalRequested(sessionID string) error {
	return Send(appName, "Session "+sessionID+" is waiting for approval")
}

// Notifier turns codex events into notifications. The zero value is disabled.
type Notifier struct {
	mu      sync.RWMutex
	enabled bool
}

// NewNotifier creates a Notifier that starts enabled or not.
func NewNotifier(enabled bool) *Notifier {
	return &Notifier{enabled: enabled}
}

// SetEnabled turns notifications on or off.
func (n *Notifier) SetEnabled(enabled bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enabled = enabled
}

// Enabled reports whether notifications are sent.
func (n *Notifier) Enabled() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.enabled
}

// HandleEvent notifies on completed tasks and approval requests. Failures are
// logged by Send and otherwise ignored.
func (n *Notifier) HandleEvent(ev codex.Event) {
	if !n.Enabled() {
		return
	}
	switch ev.Type() {
	case "task_complete":
		_ = SessionCompleted(ev.SessionID)
	case "exec_approval_request", "apply_patch_approval_request":
		_ = ApprovalRequested(ev.SessionID)
	}
}
