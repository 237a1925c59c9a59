package git

import (
	pexec "github.com/zhubert/codex-bridge/exec"
)

const (
	defaultGitPath   = "git"
	defaultPatchPath = "patch"
)

// GitService provides git operations with explicit dependency injection.
// Each GitService holds its own executor, so tests can substitute a
// MockExecutor without touching global state.
type GitService struct {
	executor  pexec.CommandExecutor
	gitPath   string
	patchPath string
}

// NewGitService creates a new GitService with the default real executor.
func NewGitService() *GitService {
	return NewGitServiceWithExecutor(pexec.NewRealExecutor())
}

// NewGitServiceWithExecutor creates a new GitService with a custom executor.
// This is primarily used for testing where a mock executor is needed.
func NewGitServiceWithExecutor(exec pexec.CommandExecutor) *GitService {
	return &GitService{
		executor:  exec,
		gitPath:   defaultGitPath,
		patchPath: defaultPatchPath,
	}
}

// WithToolPaths overrides the git and patch binaries. Empty values keep the
// current setting.
func (s *GitService) WithToolPaths(gitPath, patchPath string) *GitService {
	if gitPath != "" {
		s.gitPath = gitPath
	}
	if patchPath != "" {
		s.patchPath = patchPath
	}
	return s
}
