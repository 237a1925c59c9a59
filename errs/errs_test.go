package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKindOf_ThroughWrapping(t *testing.T) {
	base := SessionNotFound("abc")
	wrapped := fmt.Errorf("close failed: %w", base)

	if KindOf(wrapped) != KindSessionNotFound {
		t.Errorf("KindOf = %q, want %q", KindOf(wrapped), KindSessionNotFound)
	}
	if !Is(wrapped, KindSessionNotFound) {
		t.Error("Is should match through fmt.Errorf wrapping")
	}
	if Is(wrapped, KindProcessIO) {
		t.Error("Is should not match a different kind")
	}
	if KindOf(errors.New("plain")) != "" {
		t.Error("KindOf should be empty for untagged errors")
	}
	if KindOf(nil) != "" {
		t.Error("KindOf(nil) should be empty")
	}
}

func TestIs_MatchesInnerKind(t *testing.T) {
	inner := InvalidInput("working directory does not exist: /nope")
	outer := SessionStart("s1", fmt.Errorf("factory: %w", inner))

	if KindOf(outer) != KindSessionStart {
		t.Errorf("KindOf = %q, want the outermost kind", KindOf(outer))
	}
	if !Is(outer, KindSessionStart) || !Is(outer, KindInvalidInput) {
		t.Error("Is should match every kind in the chain")
	}
	if Is(outer, KindSessionNotFound) {
		t.Error("Is should not match a kind absent from the chain")
	}
	if Is(nil, KindInvalidInput) {
		t.Error("Is(nil) should be false")
	}
}

func TestError_DisplayText(t *testing.T) {
	cause := errors.New("broken pipe")
	err := ProcessIO("git", "write stdin", cause)

	if got := err.Error(); got != "failed to write stdin for git: broken pipe" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, cause) {
		t.Error("Unwrap should expose the cause")
	}
	if err.Details["command"] != "git" {
		t.Errorf("command detail = %v", err.Details["command"])
	}
}

func TestPatchApplication_Placeholders(t *testing.T) {
	tests := []struct {
		name      string
		gitErr    string
		patchErr  string
		wantParts []string
	}{
		{"both present", "error: patch failed", "Hunk #1 FAILED", []string{"git apply error: error: patch failed.", "patch error: Hunk #1 FAILED"}},
		{"git empty", "", "Hunk #1 FAILED", []string{"git apply error: unknown.", "patch error: Hunk #1 FAILED"}},
		{"both whitespace", "  \n", "\t", []string{"git apply error: unknown.", "patch error: unknown"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := PatchApplication(tt.gitErr, tt.patchErr)
			if err.Kind != KindPatchApplication {
				t.Errorf("Kind = %q", err.Kind)
			}
			for _, part := range tt.wantParts {
				if !strings.Contains(err.Error(), part) {
					t.Errorf("Error() = %q, missing %q", err.Error(), part)
				}
			}
		})
	}
}

func TestToolExecution_FallsBackToExitStatus(t *testing.T) {
	err := ToolExecution("git diff --name-status HEAD", 128, "  ")
	if !strings.Contains(err.Error(), "exited with status 128") {
		t.Errorf("Error() = %q", err.Error())
	}

	err = ToolExecution("git diff --name-status HEAD", 128, "fatal: bad revision 'HEAD'\n")
	if err.Error() != "fatal: bad revision 'HEAD'" {
		t.Errorf("Error() = %q", err.Error())
	}
}
