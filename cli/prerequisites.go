// Package cli checks that the external tools codex-bridge drives are
// installed.
package cli

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	pexec "github.com/zhubert/codex-bridge/exec"
)

// Prerequisite represents a required CLI tool
type Prerequisite struct {
	Name        string // Command name or path (e.g., "codex", "/usr/local/bin/git")
	Required    bool   // Whether serve refuses to start without it
	Description string
	InstallURL  string
	VersionArgs []string // Arguments that print a version, tried in order
}

// DefaultPrerequisites returns the list of CLI tools needed by codex-bridge
func DefaultPrerequisites() []Prerequisite {
	return []Prerequisite{
		{
			Name:        "codex",
			Required:    true,
			Description: "OpenAI Codex CLI",
			InstallURL:  "https://github.com/openai/codex",
			VersionArgs: []string{"-V"},
		},
		{
			Name:        "git",
			Required:    true,
			Description: "Git version control",
			InstallURL:  "https://git-scm.com/downloads",
			VersionArgs: []string{"--version"},
		},
		{
			Name:        "patch",
			Required:    false, // Only used when git apply cannot revert a diff
			Description: "GNU patch (fallback for reverting diffs)",
			InstallURL:  "https://savannah.gnu.org/projects/patch/",
			VersionArgs: []string{"--version"},
		},
	}
}

// PrerequisitesFor returns DefaultPrerequisites with names replaced by the
// configured binaries. Empty paths keep the default name.
func PrerequisitesFor(codexPath, gitPath, patchPath string) []Prerequisite {
	prereqs := DefaultPrerequisites()
	overrides := map[string]string{"codex": codexPath, "git": gitPath, "patch": patchPath}
	for i, p := range prereqs {
		if o := overrides[p.Name]; o != "" {
			prereqs[i].Name = o
		}
	}
	return prereqs
}

// CheckResult contains the result of checking a prerequisite
type CheckResult struct {
	Prerequisite Prerequisite
	Found        bool
	Path         string // Resolved executable path
	Version      string // First line of the version output, if any
	Error        error
}

// Checker resolves prerequisites on PATH and asks them for a version.
type Checker struct {
	executor pexec.CommandExecutor
	lookPath func(string) (string, error)
}

// NewChecker creates a Checker that runs version commands through executor.
func NewChecker(executor pexec.CommandExecutor) *Checker {
	return &Checker{executor: executor, lookPath: exec.LookPath}
}

// Check verifies that a CLI tool is available
func (c *Checker) Check(ctx context.Context, prereq Prerequisite) CheckResult {
	result := CheckResult{Prerequisite: prereq}

	path, err := c.lookPath(prereq.Name)
	if err != nil {
		result.Error = fmt.Errorf("%s not found in PATH", prereq.Name)
		return result
	}
	result.Found = true
	result.Path = path
	result.Version = c.version(ctx, path, prereq.VersionArgs)
	return result
}

// CheckAll verifies all prerequisites and returns results in order
func (c *Checker) CheckAll(ctx context.Context, prereqs []Prerequisite) []CheckResult {
	results := make([]CheckResult, len(prereqs))
	for i, prereq := range prereqs {
		results[i] = c.Check(ctx, prereq)
	}
	return results
}

// ValidateRequired returns an error naming every missing required tool.
func (c *Checker) ValidateRequired(ctx context.Context, prereqs []Prerequisite) error {
	var missing []string
	for _, prereq := range prereqs {
		if !prereq.Required {
			continue
		}
		if _, err := c.lookPath(prereq.Name); err != nil {
			missing = append(missing, fmt.Sprintf("  - %s (%s)\n    Install: %s",
				prereq.Name, prereq.Description, prereq.InstallURL))
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required CLI tools:\n%s", strings.Join(missing, "\n"))
	}
	return nil
}

func (c *Checker) version(ctx context.Context, path string, versionArgs []string) string {
	for _, arg := range versionArgs {
		out, err := pexec.Output(ctx, c.executor, "", path, arg)
		if err != nil {
			continue
		}
		line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
		line = strings.TrimSpace(line)
		// Limit length to avoid overly long version strings
		if len(line) > 100 {
			line = line[:100] + "..."
		}
		if line != "" {
			return line
		}
	}
	return ""
}

// FormatCheckResults formats check results for display
func FormatCheckResults(results []CheckResult) string {
	var sb strings.Builder

	sb.WriteString("CLI Prerequisites:\n")
	for _, r := range results {
		status := "✓"
		if !r.Found {
			if r.Prerequisite.Required {
				status = "✗"
			} else {
				status = "○"
			}
		}

		fmt.Fprintf(&sb, "  %s %s", status, r.Prerequisite.Name)
		switch {
		case r.Found && r.Version != "":
			fmt.Fprintf(&sb, " (%s)", r.Version)
		case !r.Found && r.Prerequisite.Required:
			sb.WriteString(" [REQUIRED]")
		case !r.Found:
			sb.WriteString(" [optional]")
		}
		sb.WriteString("\n")
	}

	return sb.String()
}
