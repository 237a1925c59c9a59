package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	pexec "github.com/zhubert/codex-bridge/exec"
	"github.com/zhubert/codex-bridge/logger"
	"github.com/zhubert/codex-bridge/process"
)

var skipConfirm bool

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove log files and kill orphaned codex processes",
	Long: `Removes the bridge log and every per-session log, and kills codex proto
processes whose bridge exited without closing them.

It will prompt for confirmation before proceeding unless the --yes flag is used.`,
	RunE: runClean,
}

func init() {
	cleanCmd.Flags().BoolVarP(&skipConfirm, "yes", "y", false, "Skip confirmation prompt")
	rootCmd.AddCommand(cleanCmd)
}

func runClean(cmd *cobra.Command, args []string) error {
	return runCleanWithReader(cmd.Context(), os.Stdin, cmd.OutOrStdout(), process.NewFinder(pexec.NewRealExecutor()))
}

// runCleanWithReader allows injecting input, output and process lookup for testing
func runCleanWithReader(ctx context.Context, input io.Reader, out io.Writer, finder *process.Finder) error {
	if ctx == nil {
		ctx = context.Background()
	}

	orphans, err := finder.FindOrphaned(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: error finding orphaned processes: %v\n", err)
	}

	fmt.Fprintln(out, "This will clean:")
	if len(orphans) > 0 {
		fmt.Fprintf(out, "  - %d orphaned codex process(es)\n", len(orphans))
		for _, proc := range orphans {
			fmt.Fprintf(out, "      PID %d\n", proc.PID)
		}
	}
	fmt.Fprintln(out, "  - All codex-bridge log files")

	if !skipConfirm {
		if !confirm(input, out, "Continue?") {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	logsCleared, err := logger.ClearLogs()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: error clearing logs: %v\n", err)
	}

	killed := 0
	if len(orphans) > 0 {
		killed, err = finder.CleanupOrphaned(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: error killing orphaned processes: %v\n", err)
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Cleaned:")
	fmt.Fprintf(out, "  - %d log file(s) removed\n", logsCleared)
	if killed > 0 {
		fmt.Fprintf(out, "  - %d orphaned process(es) killed\n", killed)
	}
	return nil
}

// confirm prompts the user for y/n confirmation
func confirm(input io.Reader, out io.Writer, prompt string) bool {
	reader := bufio.NewReader(input)
	fmt.Fprintf(out, "%s [y/N]: ", prompt)
	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	response = strings.ToLower(strings.TrimSpace(response))
	return response == "y" || response == "yes"
}
