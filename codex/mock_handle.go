package codex

import (
	"context"
	"sync"

	"github.com/zhubert/codex-bridge/config"
)

// MockCall records one call made on a MockHandle.
type MockCall struct {
	Method     string
	Message    string
	ApprovalID string
	Approved   bool
}

// MockHandle is a Handle that records calls instead of driving a process.
// Set the Err fields to make the corresponding call fail.
type MockHandle struct {
	mu sync.Mutex

	SessionID string
	WorkDir   string

	SendErr      error
	ApprovalErr  error
	InterruptErr error
	CloseErr     error

	// CloseGate, when non-nil, blocks Close until it is closed.
	CloseGate chan struct{}

	// SendGate, when non-nil, blocks SendUserInput after the call is
	// recorded until it is closed.
	SendGate chan struct{}

	calls      []MockCall
	closeCount int
	done       chan struct{}
	exitOnce   sync.Once
}

var _ Handle = (*MockHandle)(nil)

// NewMockHandle creates a mock session rooted at workDir.
func NewMockHandle(sessionID, workDir string) *MockHandle {
	return &MockHandle{SessionID: sessionID, WorkDir: workDir, done: make(chan struct{})}
}

// MockFactory returns a Factory that builds a MockHandle per session and
// reports each one to onCreate, if set.
func MockFactory(onCreate func(*MockHandle)) Factory {
	return func(ctx context.Context, sessionID string, cfg config.SessionConfig) (Handle, error) {
		h := NewMockHandle(sessionID, cfg.WorkingDirectory)
		if onCreate != nil {
			onCreate(h)
		}
		return h, nil
	}
}

func (m *MockHandle) record(call MockCall) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

// WorkingDirectory implements Handle.
func (m *MockHandle) WorkingDirectory() string {
	return m.WorkDir
}

// SendUserInput implements Handle.
func (m *MockHandle) SendUserInput(ctx context.Context, message string) error {
	m.record(MockCall{Method: OpUserInput, Message: message})
	if m.SendGate != nil {
		<-m.SendGate
	}
	return m.SendErr
}

// SendExecApproval implements Handle.
func (m *MockHandle) SendExecApproval(ctx context.Context, approvalID string, approved bool) error {
	m.record(MockCall{Method: OpExecApproval, ApprovalID: approvalID, Approved: approved})
	return m.ApprovalErr
}

// SendPatchApproval implements Handle.
func (m *MockHandle) SendPatchApproval(ctx context.Context, approvalID string, approved bool) error {
	m.record(MockCall{Method: OpPatchApproval, ApprovalID: approvalID, Approved: approved})
	return m.ApprovalErr
}

// Interrupt implements Handle.
func (m *MockHandle) Interrupt(ctx context.Context) error {
	m.record(MockCall{Method: OpInterrupt})
	return m.InterruptErr
}

// Close implements Handle.
func (m *MockHandle) Close(ctx context.Context) error {
	if m.CloseGate != nil {
		<-m.CloseGate
	}
	m.mu.Lock()
	m.closeCount++
	m.mu.Unlock()
	m.record(MockCall{Method: OpShutdown})
	m.Exit()
	return m.CloseErr
}

// Done implements Handle.
func (m *MockHandle) Done() <-chan struct{} {
	return m.done
}

// Exit simulates the agent process exiting. It is safe to call repeatedly.
func (m *MockHandle) Exit() {
	m.exitOnce.Do(func() { close(m.done) })
}

// Calls returns a copy of the recorded calls.
func (m *MockHandle) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	calls := make([]MockCall, len(m.calls))
	copy(calls, m.calls)
	return calls
}

// CloseCount reports how many times Close was called.
func (m *MockHandle) CloseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCount
}
