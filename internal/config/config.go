package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory, socket, and bind address configuration.
type Paths struct {
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
	Socket   string `toml:"socket"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Origin contains configuration for the origin agent that issues triggers
// and answers progress queries.
type Origin struct {
	AgentURL       string `toml:"agent_url"`
	AgentToken     string `toml:"agent_token"`
	RequestTimeout int    `toml:"request_timeout"`
	TriggerDelayMS int    `toml:"trigger_delay_ms"`
}

// Matching contains the tunable constants of the similarity scorer and
// event matcher. Only the relative ordering of these values matters to the
// matcher; the magnitudes were settled empirically.
type Matching struct {
	Threshold         int      `toml:"threshold"`
	PrefixLength      int      `toml:"prefix_length"`
	OrdinalPenalty    int      `toml:"ordinal_penalty"`
	TokenOverlapMax   int      `toml:"token_overlap_max"`
	TokenOverlapFloor int      `toml:"token_overlap_floor"`
	BigramMax         int      `toml:"bigram_max"`
	OrdinalMarkers    []string `toml:"ordinal_markers"`
}

// Poller contains progress polling intervals and the monitoring safety bound.
type Poller struct {
	IntervalSeconds   int `toml:"interval_seconds"`
	MaxMonitorMinutes int `toml:"max_monitor_minutes"`
}

// Persistence contains snapshot flush timing.
type Persistence struct {
	FlushIntervalSeconds int `toml:"flush_interval_seconds"`
}

// Notifications contains ntfy push notification settings.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for taskwatch.
type Config struct {
	Paths         Paths         `toml:"paths"`
	Origin        Origin        `toml:"origin"`
	Matching      Matching      `toml:"matching"`
	Poller        Poller        `toml:"poller"`
	Persistence   Persistence   `toml:"persistence"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/taskwatch/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// SocketPath returns the unix socket path for IPC, defaulting under StateDir.
func (c *Config) SocketPath() string {
	if strings.TrimSpace(c.Paths.Socket) != "" {
		return c.Paths.Socket
	}
	return filepath.Join(c.Paths.StateDir, "taskwatchd.sock")
}

// DatabasePath returns the SQLite state database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.StateDir, "tasks.db")
}

// LogFilePath returns the daemon log file location.
func (c *Config) LogFilePath() string {
	return filepath.Join(c.Paths.LogDir, "taskwatch.log")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
