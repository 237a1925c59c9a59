package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zhubert/codex-bridge/cli"
	pexec "github.com/zhubert/codex-bridge/exec"
	"github.com/zhubert/codex-bridge/logger"
	"github.com/zhubert/codex-bridge/paths"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that codex, git and patch are installed",
	Long: `Reports every external tool codex-bridge drives, where configuration and
logs are kept, and exits non-zero when a required tool is missing.`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	gitPath, patchPath := cfg.GetToolPaths()
	prereqs := cli.PrerequisitesFor(cfg.GetCodexPath(), gitPath, patchPath)
	checker := cli.NewChecker(pexec.NewRealExecutor())

	out := cmd.OutOrStdout()
	fmt.Fprint(out, cli.FormatCheckResults(checker.CheckAll(cmd.Context(), prereqs)))

	layout := "XDG"
	if paths.IsFlatLayout() {
		layout = "flat"
	}
	logPath, _ := logger.DefaultLogPath()
	fmt.Fprintf(out, "\nPaths (%s layout):\n", layout)
	fmt.Fprintf(out, "  config: %s\n", cfg.FilePath())
	fmt.Fprintf(out, "  log:    %s\n", logPath)
	return checker.ValidateRequired(cmd.Context(), prereqs)
}
