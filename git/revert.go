package git

import (
	"context"
	"strings"

	"github.com/zhubert/codex-bridge/errs"
	"github.com/zhubert/codex-bridge/logger"
)

// RevertPatch undoes a previously produced unified diff in workDir.
//
// `git apply -R` is tried first; if it does not exit cleanly, `patch -p1 -R`
// gets the same input. Neither is retried, and no rollback is attempted across
// files beyond what each tool itself guarantees. A blank diff is a no-op.
func (s *GitService) RevertPatch(ctx context.Context, workDir, diff string) error {
	diff = strings.TrimSpace(diff)
	if diff == "" {
		return nil
	}
	input := []byte(diff + "\n")
	log := logger.WithComponent("git")

	applyRes, err := s.executor.Exec(ctx, workDir, input, s.gitPath, "apply", "-R", "--whitespace=nowarn")
	if err != nil {
		return err
	}
	if applyRes.Success() {
		log.Info("reverted diff with git apply", "workDir", workDir, "bytes", len(input))
		return nil
	}
	gitErr := strings.TrimSpace(string(applyRes.Stderr))
	log.Debug("git apply -R failed, falling back to patch", "workDir", workDir, "exitCode", applyRes.ExitCode, "stderr", gitErr)

	patchRes, err := s.executor.Exec(ctx, workDir, input, s.patchPath, "-p1", "-R")
	if err != nil {
		return err
	}
	if patchRes.Success() {
		log.Info("reverted diff with patch", "workDir", workDir, "bytes", len(input))
		return nil
	}
	patchErr := strings.TrimSpace(string(patchRes.Stderr))

	log.Warn("failed to revert diff", "workDir", workDir, "gitError", gitErr, "patchError", patchErr)
	return errs.PatchApplication(gitErr, patchErr)
}
