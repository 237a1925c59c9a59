package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zhubert/codex-bridge/config"
	"github.com/zhubert/codex-bridge/logger"
)

var (
	configPath            string
	debugMode             bool
	version, commit, date string
)

// SetVersionInfo sets version information from ldflags
func SetVersionInfo(v, c, d string) {
	version, commit, date = v, c, d
}

var rootCmd = &cobra.Command{
	Use:   "codex-bridge",
	Short: "Local bridge between a UI and concurrent codex sessions",
	Long: `codex-bridge runs interactive codex sessions on behalf of a UI and exposes
them, together with diff, summary and revert operations on each session's
git worktree, over HTTP and WebSocket.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: config.yaml in the codex-bridge config dir)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
}

func initConfig() {
	if debugMode {
		logger.SetDebug(true)
	}
}

// Execute runs the root command
func Execute() error {
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(versionTemplate())
	return rootCmd.Execute()
}

func versionTemplate() string {
	if commit != "none" && commit != "" {
		return fmt.Sprintf("codex-bridge %s\n  commit: %s\n  built:  %s\n", version, commit, date)
	}
	return fmt.Sprintf("codex-bridge %s\n", version)
}

// loadConfig loads --config if given, else the default config file.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	if cfg.GetDebug() {
		logger.SetDebug(true)
	}
	return cfg, nil
}
