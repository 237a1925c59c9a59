// Package process finds codex agent processes left behind by a bridge that
// exited without closing its sessions.
package process

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"strings"

	pexec "github.com/zhubert/codex-bridge/exec"
	"github.com/zhubert/codex-bridge/logger"
)

// CodexProcess is a running "codex proto" process found on the system.
type CodexProcess struct {
	PID     int    // Process ID
	PPID    int    // Parent process ID
	Command string // Full command line
}

// Orphaned reports whether the process has been reparented to init, which
// happens when the bridge that spawned it dies first.
func (p CodexProcess) Orphaned() bool {
	return p.PPID == 1
}

// Finder lists and kills codex processes through a CommandExecutor.
type Finder struct {
	executor pexec.CommandExecutor
}

// NewFinder creates a Finder that runs ps and kill through executor.
func NewFinder(executor pexec.CommandExecutor) *Finder {
	return &Finder{executor: executor}
}

// FindCodexProcesses lists every process running the codex proto mode.
func (f *Finder) FindCodexProcesses(ctx context.Context) ([]CodexProcess, error) {
	if runtime.GOOS == "windows" {
		return nil, nil
	}

	output, err := pexec.Output(ctx, f.executor, "", "ps", "-eo", "pid=,ppid=,args=")
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}

	processes := parsePS(string(output))
	logger.WithComponent("process").Debug("found codex processes", "count", len(processes))
	return processes, nil
}

// FindOrphaned returns the codex processes whose parent has exited.
func (f *Finder) FindOrphaned(ctx context.Context) ([]CodexProcess, error) {
	all, err := f.FindCodexProcesses(ctx)
	if err != nil {
		return nil, err
	}

	log := logger.WithComponent("process")
	var orphans []CodexProcess
	for _, proc := range all {
		if proc.Orphaned() {
			orphans = append(orphans, proc)
			log.Info("found orphaned codex process", "pid", proc.PID)
		}
	}
	return orphans, nil
}

// Kill sends SIGKILL to pid.
func (f *Finder) Kill(ctx context.Context, pid int) error {
	_, err := pexec.Output(ctx, f.executor, "", "kill", "-9", strconv.Itoa(pid))
	return err
}

// CleanupOrphaned kills every orphaned codex process and returns the number
// killed. Individual kill failures are logged and skipped.
func (f *Finder) CleanupOrphaned(ctx context.Context) (int, error) {
	orphans, err := f.FindOrphaned(ctx)
	if err != nil {
		return 0, err
	}

	log := logger.WithComponent("process")
	killed := 0
	for _, proc := range orphans {
		log.Info("killing orphaned codex process", "pid", proc.PID)
		if err := f.Kill(ctx, proc.PID); err != nil {
			log.Error("failed to kill process", "pid", proc.PID, "error", err)
			continue
		}
		killed++
	}
	return killed, nil
}

// parsePS parses "pid ppid args" lines and keeps codex proto invocations.
func parsePS(output string) []CodexProcess {
	var processes []CodexProcess
	for line := range strings.SplitSeq(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		pid, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		ppid, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		if !isCodexProto(fields[2:]) {
			continue
		}
		processes = append(processes, CodexProcess{
			PID:     pid,
			PPID:    ppid,
			Command: strings.Join(fields[2:], " "),
		})
	}
	return processes
}

// isCodexProto matches "<...>/codex proto ..." but not, say, "grep codex".
func isCodexProto(args []string) bool {
	if len(args) < 2 || args[1] != "proto" {
		return false
	}
	bin := args[0]
	if i := strings.LastIndexByte(bin, '/'); i >= 0 {
		bin = bin[i+1:]
	}
	return bin == "codex"
}
