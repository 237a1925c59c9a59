package codex

import (
	"github.com/google/uuid"

	"github.com/zhubert/codex-bridge/config"
)

// Op types understood by `codex proto`.
const (
	OpUserInput     = "user_input"
	OpExecApproval  = "exec_approval"
	OpPatchApproval = "patch_approval"
	OpInterrupt     = "interrupt"
	OpShutdown      = "shutdown"
)

// Review decisions for approval ops.
const (
	DecisionApproved = "approved"
	DecisionDenied   = "denied"
)

// Submission is one request line written to the agent.
type Submission struct {
	ID string `json:"id"`
	Op any    `json:"op"`
}

// InputItem is one element of a user_input op.
type InputItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type userInputOp struct {
	Type  string      `json:"type"`
	Items []InputItem `json:"items"`
}

type approvalOp struct {
	Type     string `json:"type"`
	ID       string `json:"id"`
	Decision string `json:"decision"`
}

type bareOp struct {
	Type string `json:"type"`
}

func newSubmission(op any) Submission {
	return Submission{ID: uuid.New().String(), Op: op}
}

// UserInput builds a text user_input submission.
func UserInput(message string) Submission {
	return newSubmission(userInputOp{
		Type:  OpUserInput,
		Items: []InputItem{{Type: "text", Text: message}},
	})
}

// Approval builds an exec_approval or patch_approval submission.
func Approval(opType, approvalID string, approved bool) Submission {
	decision := DecisionDenied
	if approved {
		decision = DecisionApproved
	}
	return newSubmission(approvalOp{Type: opType, ID: approvalID, Decision: decision})
}

// Interrupt builds an interrupt submission.
func Interrupt() Submission {
	return newSubmission(bareOp{Type: OpInterrupt})
}

// Shutdown builds a shutdown submission.
func Shutdown() Submission {
	return newSubmission(bareOp{Type: OpShutdown})
}

// BuildArgs returns the argument list for `codex proto` under cfg. Settings
// are passed as -c overrides; ExtraArgs are appended verbatim.
func BuildArgs(cfg config.SessionConfig) []string {
	args := []string{"proto"}
	override := func(key, value string) {
		if value != "" {
			args = append(args, "-c", key+"="+value)
		}
	}

	override("model", cfg.Model)
	override("model_provider", cfg.Provider)
	override("approval_policy", cfg.ApprovalPolicy)
	override("sandbox_mode", cfg.SandboxMode)
	override("model_reasoning_effort", cfg.ReasoningEffort)
	override("experimental_resume", cfg.ResumePath)

	return append(args, cfg.ExtraArgs...)
}
