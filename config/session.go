package config

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

var (
	approvalPolicies = []string{"untrusted", "on-failure", "on-request", "never"}
	sandboxModes     = []string{"read-only", "workspace-write", "danger-full-access"}
	reasoningEfforts = []string{"minimal", "low", "medium", "high"}
)

// SessionConfig describes how to launch one codex session. JSON tags match the
// payload of start requests; YAML tags match the config file defaults.
type SessionConfig struct {
	WorkingDirectory string   `json:"workingDirectory" yaml:"working_directory,omitempty"`
	Model            string   `json:"model,omitempty" yaml:"model,omitempty"`
	Provider         string   `json:"provider,omitempty" yaml:"provider,omitempty"`
	ApprovalPolicy   string   `json:"approvalPolicy,omitempty" yaml:"approval_policy,omitempty"`
	SandboxMode      string   `json:"sandboxMode,omitempty" yaml:"sandbox_mode,omitempty"`
	ReasoningEffort  string   `json:"reasoningEffort,omitempty" yaml:"reasoning_effort,omitempty"`
	ResumePath       string   `json:"resumePath,omitempty" yaml:"resume_path,omitempty"`
	CodexPath        string   `json:"codexPath,omitempty" yaml:"codex_path,omitempty"` // Overrides Config.CodexPath
	ExtraArgs        []string `json:"customArgs,omitempty" yaml:"extra_args,omitempty"`

	// APIKey is passed to the child environment and never written back out.
	APIKey string `json:"apiKey,omitempty" yaml:"-"`
}

// Clone returns a deep copy.
func (s SessionConfig) Clone() SessionConfig {
	s.ExtraArgs = slices.Clone(s.ExtraArgs)
	return s
}

// Merge returns s with every unset field taken from defaults. Extra args from
// defaults come first so per-session args can override them.
func (s SessionConfig) Merge(defaults SessionConfig) SessionConfig {
	out := s.Clone()
	fill := func(dst *string, src string) {
		if *dst == "" {
			*dst = src
		}
	}
	fill(&out.WorkingDirectory, defaults.WorkingDirectory)
	fill(&out.Model, defaults.Model)
	fill(&out.Provider, defaults.Provider)
	fill(&out.ApprovalPolicy, defaults.ApprovalPolicy)
	fill(&out.SandboxMode, defaults.SandboxMode)
	fill(&out.ReasoningEffort, defaults.ReasoningEffort)
	fill(&out.ResumePath, defaults.ResumePath)
	fill(&out.CodexPath, defaults.CodexPath)
	fill(&out.APIKey, defaults.APIKey)
	if len(defaults.ExtraArgs) > 0 {
		out.ExtraArgs = append(slices.Clone(defaults.ExtraArgs), out.ExtraArgs...)
	}
	return out
}

// Validate checks a fully merged session config.
func (s SessionConfig) Validate() error {
	if strings.TrimSpace(s.WorkingDirectory) == "" {
		return fmt.Errorf("working directory is required")
	}
	if !filepath.IsAbs(s.WorkingDirectory) {
		return fmt.Errorf("working directory must be absolute: %s", s.WorkingDirectory)
	}
	return s.validateEnums()
}

func (s SessionConfig) validateEnums() error {
	check := func(field, value string, allowed []string) error {
		if value != "" && !slices.Contains(allowed, value) {
			return fmt.Errorf("invalid %s %q (expected one of %s)", field, value, strings.Join(allowed, ", "))
		}
		return nil
	}
	if err := check("approval policy", s.ApprovalPolicy, approvalPolicies); err != nil {
		return err
	}
	if err := check("sandbox mode", s.SandboxMode, sandboxModes); err != nil {
		return err
	}
	return check("reasoning effort", s.ReasoningEffort, reasoningEfforts)
}
