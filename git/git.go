// Package git reconciles a session's working directory with the repository it
// lives in, by shelling out to the git and patch command-line tools.
//
// The package is organized into focused files:
//   - service.go: GitService struct and constructors
//   - worktree.go: full diff, subset diff, and change summary of a worktree
//   - namestatus.go: parsing of `git diff --name-status` output
//   - chunks.go: joining diff chunks into one patch text
//   - revert.go: reverse-applying a previously produced diff
package git
