package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Polling modes for the usage poller.
const (
	ModeSmart = "smart"
	ModeFixed = "fixed"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Monitor MonitorConfig `yaml:"monitor"`
	Usage   UsageConfig   `yaml:"usage"`
	Secrets SecretsConfig `yaml:"secrets"`
	Privacy PrivacyConfig `yaml:"privacy"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AuthToken      string   `yaml:"auth_token"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type MonitorConfig struct {
	// ClaudeDir is the CLI's state directory. It holds ide/*.lock
	// descriptors, projects/<key>/*.jsonl logs and stats-cache.json.
	ClaudeDir         string        `yaml:"claude_dir"`
	ScanInterval      time.Duration `yaml:"scan_interval"`
	BootstrapLines    int           `yaml:"bootstrap_lines"`
	BroadcastThrottle time.Duration `yaml:"broadcast_throttle"`
	SnapshotInterval  time.Duration `yaml:"snapshot_interval"`
}

type UsageConfig struct {
	BaseURL          string        `yaml:"base_url"`
	Mode             string        `yaml:"mode"`
	FixedInterval    time.Duration `yaml:"fixed_interval"`
	ManualDebounce   time.Duration `yaml:"manual_debounce"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	ResourceTimeout  time.Duration `yaml:"resource_timeout"`
	NotifyThresholds []float64     `yaml:"notify_thresholds"`
}

type SecretsConfig struct {
	// Path of the file-backed secret store. Empty means the default
	// location under the user's config directory.
	Path string `yaml:"path"`
}

// PrivacyConfig controls what the publish surface reveals about sessions.
type PrivacyConfig struct {
	MaskWorkingDirs bool     `yaml:"mask_working_dirs"`
	MaskSessionIDs  bool     `yaml:"mask_session_ids"`
	MaskMessages    bool     `yaml:"mask_messages"`
	AllowedPaths    []string `yaml:"allowed_paths"`
	BlockedPaths    []string `yaml:"blocked_paths"`
}

func defaultConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "~"
	}
	return &Config{
		Server: ServerConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
		Monitor: MonitorConfig{
			ClaudeDir:         filepath.Join(home, ".claude"),
			ScanInterval:      5 * time.Second,
			BootstrapLines:    50,
			BroadcastThrottle: 100 * time.Millisecond,
			SnapshotInterval:  5 * time.Second,
		},
		Usage: UsageConfig{
			BaseURL:          "https://claude.ai/api",
			Mode:             ModeSmart,
			FixedInterval:    5 * time.Minute,
			ManualDebounce:   10 * time.Second,
			RequestTimeout:   30 * time.Second,
			ResourceTimeout:  60 * time.Second,
			NotifyThresholds: []float64{75, 90},
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.Monitor.ClaudeDir = expandHome(cfg.Monitor.ClaudeDir)
	cfg.Secrets.Path = expandHome(cfg.Secrets.Path)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault loads path, falling back to the defaults when the file
// does not exist. Any other error is returned.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return defaultConfig(), nil
	}
	return cfg, err
}

func (c *Config) Validate() error {
	if c.Monitor.ScanInterval <= 0 {
		return errors.New("monitor.scan_interval must be positive")
	}
	if c.Monitor.BootstrapLines < 0 {
		return errors.New("monitor.bootstrap_lines must not be negative")
	}
	switch c.Usage.Mode {
	case ModeSmart, ModeFixed:
	default:
		return fmt.Errorf("usage.mode %q must be %q or %q", c.Usage.Mode, ModeSmart, ModeFixed)
	}
	if c.Usage.Mode == ModeFixed && c.Usage.FixedInterval <= 0 {
		return errors.New("usage.fixed_interval must be positive in fixed mode")
	}
	if c.Usage.BaseURL == "" {
		return errors.New("usage.base_url is required")
	}
	for _, t := range c.Usage.NotifyThresholds {
		if t <= 0 || t > 100 {
			return fmt.Errorf("usage.notify_thresholds: %v out of range (0, 100]", t)
		}
	}
	return nil
}

// LockDir is where the CLI publishes one descriptor per live session.
func (c *Config) LockDir() string {
	return filepath.Join(c.Monitor.ClaudeDir, "ide")
}

// ProjectsDir holds one log directory per project key.
func (c *Config) ProjectsDir() string {
	return filepath.Join(c.Monitor.ClaudeDir, "projects")
}

func (c *Config) StatsCachePath() string {
	return filepath.Join(c.Monitor.ClaudeDir, "stats-cache.json")
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// Diff lists human-readable differences between two configs for the
// settings that can change without a restart. Server settings are not
// compared since they require one.
func Diff(old, new *Config) []string {
	var changes []string
	add := func(name string, a, b any) {
		if fmt.Sprint(a) != fmt.Sprint(b) {
			changes = append(changes, fmt.Sprintf("%s: %v → %v", name, a, b))
		}
	}
	add("usage.mode", old.Usage.Mode, new.Usage.Mode)
	add("usage.fixed_interval", old.Usage.FixedInterval, new.Usage.FixedInterval)
	add("usage.manual_debounce", old.Usage.ManualDebounce, new.Usage.ManualDebounce)
	add("usage.notify_thresholds", old.Usage.NotifyThresholds, new.Usage.NotifyThresholds)
	add("privacy.mask_working_dirs", old.Privacy.MaskWorkingDirs, new.Privacy.MaskWorkingDirs)
	add("privacy.mask_session_ids", old.Privacy.MaskSessionIDs, new.Privacy.MaskSessionIDs)
	add("privacy.mask_messages", old.Privacy.MaskMessages, new.Privacy.MaskMessages)
	add("privacy.allowed_paths", old.Privacy.AllowedPaths, new.Privacy.AllowedPaths)
	add("privacy.blocked_paths", old.Privacy.BlockedPaths, new.Privacy.BlockedPaths)
	return changes
}
