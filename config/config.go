// Package config loads the bridge's YAML configuration and defines the
// per-session codex settings accepted by start requests.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/zhubert/codex-bridge/paths"
)

const (
	DefaultListenAddr = "127.0.0.1:7420"
	DefaultCodexPath  = "codex"
	DefaultGitPath    = "git"
	DefaultPatchPath  = "patch"
)

// Config holds the application configuration
type Config struct {
	ListenAddr string `yaml:"listen_addr,omitempty"` // Address the command surface listens on
	CodexPath  string `yaml:"codex_path,omitempty"`  // codex binary, looked up on PATH when bare
	GitPath    string `yaml:"git_path,omitempty"`
	PatchPath  string `yaml:"patch_path,omitempty"`
	Debug      bool   `yaml:"debug,omitempty"`  // Debug-level logging
	Notify     bool   `yaml:"notify,omitempty"` // Desktop notification when a session finishes or needs approval

	// Defaults are merged under every start request.
	Defaults SessionConfig `yaml:"defaults,omitempty"`

	mu       sync.RWMutex
	filePath string
}

// Default returns a config with every default applied and no backing file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadDefault loads config.yaml from the config directory.
func LoadDefault() (*Config, error) {
	path, err := paths.ConfigFilePath()
	if err != nil {
		return nil, err
	}
	return Load(path)
}

// Load reads the config at path. A missing file yields the defaults, bound to
// path so that Save creates it.
func Load(path string) (*Config, error) {
	cfg := &Config{filePath: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg.applyDefaults()
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// applyDefaults fills unset fields. Only called before the Config is shared.
func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.CodexPath == "" {
		c.CodexPath = DefaultCodexPath
	}
	if c.GitPath == "" {
		c.GitPath = DefaultGitPath
	}
	if c.PatchPath == "" {
		c.PatchPath = DefaultPatchPath
	}
}

// Validate checks that the config is internally consistent.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("listen_addr %q: %w", c.ListenAddr, err)
	}
	if err := c.Defaults.validateEnums(); err != nil {
		return fmt.Errorf("defaults: %w", err)
	}
	return nil
}

// Save writes the config to disk
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.filePath == "" {
		return fmt.Errorf("config has no file path")
	}
	if err := os.MkdirAll(filepath.Dir(c.filePath), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.filePath, data, 0644)
}

// FilePath returns where the config is loaded from and saved to.
func (c *Config) FilePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filePath
}

// SetFilePath sets the config file path (for testing).
func (c *Config) SetFilePath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filePath = path
}

// GetListenAddr returns the command surface address.
func (c *Config) GetListenAddr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ListenAddr
}

// SetListenAddr overrides the command surface address.
func (c *Config) SetListenAddr(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ListenAddr = addr
}

// GetCodexPath returns the codex binary to launch.
func (c *Config) GetCodexPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.CodexPath
}

// GetToolPaths returns the git and patch binaries.
func (c *Config) GetToolPaths() (gitPath, patchPath string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.GitPath, c.PatchPath
}

// GetDebug reports whether debug logging was requested.
func (c *Config) GetDebug() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Debug
}

// GetNotify reports whether desktop notifications are enabled.
func (c *Config) GetNotify() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Notify
}

// GetDefaults returns a copy of the session defaults.
func (c *Config) GetDefaults() SessionConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Defaults.Clone()
}
