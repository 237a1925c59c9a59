package git

import (
	"context"
	"strings"

	"github.com/zhubert/codex-bridge/errs"
	pexec "github.com/zhubert/codex-bridge/exec"
	"github.com/zhubert/codex-bridge/logger"
)

// untrackedStatus is the porcelain status prefix of an untracked file.
const untrackedStatus = "??"

// WorktreeSummary lists what changed in a worktree relative to HEAD.
type WorktreeSummary struct {
	Tracked   []TrackedDiffEntry `json:"tracked"`
	Untracked []string           `json:"untracked"`
}

// DiffTarget selects one file for WorktreeDiffSubset.
type DiffTarget struct {
	Path    string  `json:"path"`
	Status  string  `json:"status"`
	OldPath *string `json:"oldPath,omitempty"`
}

var (
	trackedDiffArgs   = []string{"diff", "--no-color", "--unified=3", "HEAD"}
	untrackedListArgs = []string{"ls-files", "--others", "--exclude-standard"}
)

// diffExitOK reports whether a diff-class exit code means "ran fine":
// 0 is no differences, 1 is differences found.
func diffExitOK(code int) bool {
	return code == 0 || code == 1
}

// WorktreeDiff returns a unified diff of every tracked change against HEAD
// followed by a synthesized "new file" diff for each untracked file.
//
// A directory outside any git repository yields "", as do tracked or per-file
// diffs that exit with a tool error. Only failures to spawn git are returned.
func (s *GitService) WorktreeDiff(ctx context.Context, workDir string) (string, error) {
	log := logger.WithComponent("git")

	toplevel, err := s.executor.Exec(ctx, workDir, nil, s.gitPath, "rev-parse", "--show-toplevel")
	if err != nil || !toplevel.Success() {
		log.Debug("not a git worktree, returning empty diff", "workDir", workDir, "error", err)
		return "", nil
	}

	tracked, err := s.executor.Exec(ctx, workDir, nil, s.gitPath, trackedDiffArgs...)
	if err != nil {
		return "", err
	}
	trackedDiff := ""
	if tracked.ExitCode > 1 {
		log.Warn("tracked diff failed", "workDir", workDir, "exitCode", tracked.ExitCode, "stderr", strings.TrimSpace(string(tracked.Stderr)))
	} else {
		trackedDiff = string(tracked.Stdout)
	}

	listing, err := s.executor.Exec(ctx, workDir, nil, s.gitPath, untrackedListArgs...)
	if err != nil {
		return "", err
	}

	chunks := []string{trackedDiff}
	for _, file := range splitLines(string(listing.Stdout)) {
		res, err := s.untrackedFileDiff(ctx, workDir, file)
		if err != nil {
			return "", err
		}
		if res.ExitCode > 1 {
			log.Warn("skipping untracked file diff", "file", file, "exitCode", res.ExitCode)
			continue
		}
		chunks = append(chunks, string(res.Stdout))
	}

	return JoinChunks(chunks...), nil
}

// WorktreeDiffSubset diffs only the given targets. Tracked targets (and the
// old side of renames and copies) are diffed in a single batched git call;
// untracked targets get one synthesized diff each, in input order.
func (s *GitService) WorktreeDiffSubset(ctx context.Context, workDir string, targets []DiffTarget) (string, error) {
	if len(targets) == 0 {
		return "", nil
	}

	var trackedPaths, untrackedPaths []string
	seen := make(map[string]bool)
	addTracked := func(p string) {
		if !seen[p] {
			seen[p] = true
			trackedPaths = append(trackedPaths, p)
		}
	}

	for _, target := range targets {
		path := strings.TrimSpace(target.Path)
		if path == "" {
			continue
		}
		if strings.HasPrefix(target.Status, untrackedStatus) {
			untrackedPaths = append(untrackedPaths, path)
			continue
		}
		addTracked(path)
		if target.OldPath != nil {
			if old := strings.TrimSpace(*target.OldPath); old != "" {
				addTracked(old)
			}
		}
	}

	var chunks []string

	if len(trackedPaths) > 0 {
		args := append(append([]string{}, trackedDiffArgs...), "--")
		args = append(args, trackedPaths...)
		res, err := s.executor.Exec(ctx, workDir, nil, s.gitPath, args...)
		if err != nil {
			return "", err
		}
		if diffExitOK(res.ExitCode) {
			chunks = append(chunks, string(res.Stdout))
		} else {
			logger.WithComponent("git").Warn("subset diff failed", "workDir", workDir, "exitCode", res.ExitCode)
		}
	}

	for _, path := range untrackedPaths {
		res, err := s.untrackedFileDiff(ctx, workDir, path)
		if err != nil {
			return "", err
		}
		if diffExitOK(res.ExitCode) {
			chunks = append(chunks, string(res.Stdout))
		}
	}

	return JoinChunks(chunks...), nil
}

// WorktreeSummary reports tracked changes against HEAD and the untracked files.
// Unlike the diff operations, tool failures here are returned as errors.
func (s *GitService) WorktreeSummary(ctx context.Context, workDir string) (*WorktreeSummary, error) {
	args := []string{"diff", "--name-status", "HEAD"}
	res, err := s.executor.Exec(ctx, workDir, nil, s.gitPath, args...)
	if err != nil {
		return nil, err
	}
	if !diffExitOK(res.ExitCode) {
		return nil, errs.ToolExecution(s.gitPath+" "+strings.Join(args, " "), res.ExitCode, string(res.Stderr))
	}

	untracked, err := s.UntrackedFiles(ctx, workDir)
	if err != nil {
		return nil, err
	}

	return &WorktreeSummary{
		Tracked:   ParseNameStatus(string(res.Stdout)),
		Untracked: untracked,
	}, nil
}

// UntrackedFiles lists files git does not track, honoring ignore rules.
func (s *GitService) UntrackedFiles(ctx context.Context, workDir string) ([]string, error) {
	res, err := s.executor.Exec(ctx, workDir, nil, s.gitPath, untrackedListArgs...)
	if err != nil {
		return nil, err
	}
	if !diffExitOK(res.ExitCode) {
		return nil, errs.ToolExecution(s.gitPath+" "+strings.Join(untrackedListArgs, " "), res.ExitCode, string(res.Stderr))
	}
	return splitLines(string(res.Stdout)), nil
}

// untrackedFileDiff diffs /dev/null against file, which renders the whole
// file as added.
func (s *GitService) untrackedFileDiff(ctx context.Context, workDir, file string) (*pexec.Result, error) {
	return s.executor.Exec(ctx, workDir, nil, s.gitPath,
		"diff", "--no-color", "--unified=3", "--no-index", "--", "/dev/null", file)
}

// splitLines returns the trimmed, non-empty lines of s.
func splitLines(s string) []string {
	lines := []string{}
	for line := range strings.SplitSeq(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
