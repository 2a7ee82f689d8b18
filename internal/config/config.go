// Package config loads and persists the relay's YAML configuration file,
// generating sane defaults (including a fresh pre-shared key) on first run.
package config

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	defaultPort             = 7860
	defaultHost             = "0.0.0.0"
	defaultCols             = 120
	defaultRows             = 40
	defaultScrollbackLines  = 10000
	defaultClaudeBinary     = "claude"
	defaultMaxSessions      = 5
	defaultWSHeartbeat      = 30
	defaultWSMaxMissedPongs = 3
	defaultTabPrefix        = "claude"

	configDirName  = "claude-relay"
	configFileName = "config.yaml"
)

// Config is the on-disk shape of config.yaml.
type Config struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`

	Auth struct {
		PSK string `yaml:"psk"`
	} `yaml:"auth"`

	Tmux struct {
		Prefix          string `yaml:"prefix"`
		DefaultCols     int    `yaml:"default_cols"`
		DefaultRows     int    `yaml:"default_rows"`
		ScrollbackLines int    `yaml:"scrollback_lines"`
	} `yaml:"tmux"`

	Claude struct {
		Binary        string `yaml:"binary"`
		SessionDir    string `yaml:"session_dir"`
		MaxSessions   int    `yaml:"max_sessions"`
		MinCLIVersion string `yaml:"min_cli_version"`
	} `yaml:"claude"`

	RateLimit struct {
		WSHeartbeat      int `yaml:"ws_heartbeat"`
		WSMaxMissedPongs int `yaml:"ws_max_missed_pongs"`
	} `yaml:"rate_limit"`

	mu sync.RWMutex
}

// Dir returns the configuration directory, <home>/.config/claude-relay.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", configDirName), nil
}

// Path returns the full path to config.yaml.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFileName), nil
}

// CachePath returns the full path to the persisted session-index cache.
func CachePath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "session-cache.json"), nil
}

func defaultSessionDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".claude/projects"
	}
	return filepath.Join(home, ".claude", "projects")
}

// defaults returns a Config populated with every default value,
// plus a freshly generated PSK.
func defaults() (*Config, error) {
	psk, err := generatePSK()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port: defaultPort,
		Host: defaultHost,
	}
	cfg.Auth.PSK = psk
	cfg.Tmux.Prefix = defaultTabPrefix
	cfg.Tmux.DefaultCols = defaultCols
	cfg.Tmux.DefaultRows = defaultRows
	cfg.Tmux.ScrollbackLines = defaultScrollbackLines
	cfg.Claude.Binary = defaultClaudeBinary
	cfg.Claude.SessionDir = defaultSessionDir()
	cfg.Claude.MaxSessions = defaultMaxSessions
	cfg.RateLimit.WSHeartbeat = defaultWSHeartbeat
	cfg.RateLimit.WSMaxMissedPongs = defaultWSMaxMissedPongs
	return cfg, nil
}

func generatePSK() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate pre-shared key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Load reads config.yaml, generating it with defaults (and, on an
// interactive terminal, an editable setup form) if it does not exist yet.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		cfg, err := defaults()
		if err != nil {
			return nil, err
		}
		if IsInteractive() {
			if err := RunSetupForm(cfg); err != nil {
				return nil, fmt.Errorf("setup form: %w", err)
			}
		}
		if err := Save(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	applyZeroDefaults(&cfg)
	return &cfg, nil
}

// applyZeroDefaults fills in fields a hand-edited config.yaml omitted.
func applyZeroDefaults(cfg *Config) {
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.Host == "" {
		cfg.Host = defaultHost
	}
	if cfg.Tmux.Prefix == "" {
		cfg.Tmux.Prefix = defaultTabPrefix
	}
	if cfg.Tmux.DefaultCols == 0 {
		cfg.Tmux.DefaultCols = defaultCols
	}
	if cfg.Tmux.DefaultRows == 0 {
		cfg.Tmux.DefaultRows = defaultRows
	}
	if cfg.Tmux.ScrollbackLines == 0 {
		cfg.Tmux.ScrollbackLines = defaultScrollbackLines
	}
	if cfg.Claude.Binary == "" {
		cfg.Claude.Binary = defaultClaudeBinary
	}
	if cfg.Claude.SessionDir == "" {
		cfg.Claude.SessionDir = defaultSessionDir()
	}
	if cfg.Claude.MaxSessions == 0 {
		cfg.Claude.MaxSessions = defaultMaxSessions
	}
	if cfg.RateLimit.WSHeartbeat == 0 {
		cfg.RateLimit.WSHeartbeat = defaultWSHeartbeat
	}
	if cfg.RateLimit.WSMaxMissedPongs == 0 {
		cfg.RateLimit.WSMaxMissedPongs = defaultWSMaxMissedPongs
	}
}

// Save writes the config atomically (temp file + rename) with mode 0600
// inside a 0700 directory.
func Save(cfg *Config) error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create config dir %s: %w", dir, err)
	}

	cfg.mu.RLock()
	data, err := yaml.Marshal(cfg)
	cfg.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	path := filepath.Join(dir, configFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to finalize config: %w", err)
	}
	return nil
}

// PSK returns the configured pre-shared key.
func (c *Config) PSK() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Auth.PSK
}

// TabPrefix returns the configured multiplexer tab name prefix.
func (c *Config) TabPrefix() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Tmux.Prefix
}

// DefaultSize returns the configured default PTY column/row count.
func (c *Config) DefaultSize() (cols, rows int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Tmux.DefaultCols, c.Tmux.DefaultRows
}

// MaxSessions returns the configured cap on multiplexer tabs.
func (c *Config) MaxSessions() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Claude.MaxSessions
}

// ClaudeBinary returns the CLI binary invoked inside a tab.
func (c *Config) ClaudeBinary() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Claude.Binary
}

// SessionDir returns the session index root.
func (c *Config) SessionDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Claude.SessionDir
}

// MinCLIVersion returns the configured minimum-supported CLI version, or
// "" if no compatibility check should be performed.
func (c *Config) MinCLIVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Claude.MinCLIVersion
}

// Heartbeat returns the WebSocket liveness heartbeat interval in seconds
// and the missed-pong threshold that triggers a forced close.
func (c *Config) Heartbeat() (seconds, maxMissed int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.RateLimit.WSHeartbeat, c.RateLimit.WSMaxMissedPongs
}

// Addr returns the host:port the daemon should listen on.
func (c *Config) Addr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
