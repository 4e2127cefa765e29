package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ssargent/quill/pkg/codec"
)

// Config represents the Quill configuration
type Config struct {
	DataDir   string    `yaml:"data_dir"`
	Storage   Storage   `yaml:"storage"`
	Server    Server    `yaml:"server"`
	Auth      Auth      `yaml:"auth"`
	Events    Events    `yaml:"events"`
	Migration Migration `yaml:"migration"`
	Logging   Logging   `yaml:"logging"`
}

// Storage selects the backend holding the ledger
type Storage struct {
	Backend string `yaml:"backend"` // pebble, sqlite or memory
	Sync    bool   `yaml:"sync"`
}

// Server contains HTTP listener configuration
type Server struct {
	Bind        string   `yaml:"bind"`
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins,omitempty"`
}

// Auth modes
const (
	AuthModeToken  = "token"
	AuthModeStatic = "static"
	AuthModeBoth   = "both"
)

// Auth configures how callers are identified
type Auth struct {
	Mode        string        `yaml:"mode"`
	MaxTokenAge time.Duration `yaml:"max_token_age"`
	// StaticTokens maps a bearer token to the hex identity it stands for.
	StaticTokens map[string]string `yaml:"static_tokens,omitempty"`
}

// Events configures the event journal
type Events struct {
	Journal       string        `yaml:"journal"` // empty disables the journal
	FsyncInterval time.Duration `yaml:"fsync_interval"`
}

// Migration controls schema upgrades at startup
type Migration struct {
	Auto   bool `yaml:"auto"`
	Backup bool `yaml:"backup"`
}

// Logging contains logging configuration
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data",
		Storage: Storage{
			Backend: "pebble",
			Sync:    true,
		},
		Server: Server{
			Bind: "127.0.0.1",
			Port: 8080,
		},
		Auth: Auth{
			Mode:        AuthModeToken,
			MaxTokenAge: time.Hour,
		},
		Events: Events{
			Journal: "events.log",
		},
		Migration: Migration{
			Auto:   false,
			Backup: true,
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks the configuration for values the server cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.DataDir == "" && c.Storage.Backend != "memory" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	switch c.Storage.Backend {
	case "pebble", "sqlite", "memory", "":
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Storage.Backend))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Server.Port))
	}
	switch c.Auth.Mode {
	case AuthModeToken, AuthModeStatic, AuthModeBoth:
	default:
		errs = append(errs, fmt.Errorf("unknown auth mode %q", c.Auth.Mode))
	}
	if c.Auth.MaxTokenAge < 0 {
		errs = append(errs, errors.New("max_token_age must not be negative"))
	}
	if _, err := c.StaticIdentities(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json", "":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Logging.Format))
	}
	return errors.Join(errs...)
}

// StaticIdentities parses the static token table
func (c *Config) StaticIdentities() (map[string]codec.Identity, error) {
	out := make(map[string]codec.Identity, len(c.Auth.StaticTokens))
	for token, hexID := range c.Auth.StaticTokens {
		if token == "" {
			return nil, errors.New("static token must not be empty")
		}
		id, err := codec.ParseIdentity(hexID)
		if err != nil {
			return nil, fmt.Errorf("static token identity %q: %w", hexID, err)
		}
		out[token] = id
	}
	return out, nil
}

// JournalPath resolves the journal location against the data directory.
// It returns "" when the journal is disabled.
func (c *Config) JournalPath() string {
	if c.Events.Journal == "" {
		return ""
	}
	if filepath.IsAbs(c.Events.Journal) {
		return c.Events.Journal
	}
	return filepath.Join(c.DataDir, c.Events.Journal)
}

// BackupPath returns where a pre-migration snapshot is written.
func (c *Config) BackupPath(now time.Time) string {
	return filepath.Join(c.DataDir, "backups", fmt.Sprintf("pre-migrate-%s.snap", now.UTC().Format("20060102T150405Z")))
}

// LoadConfig loads configuration from the specified path
func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", configPath)
	}

	if !filepath.IsAbs(configPath) {
		absPath, err := filepath.Abs(configPath)
		if err != nil {
			return nil, fmt.Errorf("invalid config path: %w", err)
		}
		configPath = absPath
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveConfig saves the configuration to the specified path with secure permissions
func SaveConfig(config *Config, configPath string) error {
	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// static tokens are secrets
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GenerateSecureKey generates a cryptographically secure random key
func GenerateSecureKey(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate secure key: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// BootstrapConfig creates a new configuration at configPath. When devIdentity
// is non-zero a random static token is issued for it and auth mode is set to
// accept both static and signed tokens.
func BootstrapConfig(configPath string, dataDir string, devIdentity codec.Identity) (*Config, error) {
	config := DefaultConfig()
	if dataDir != "" {
		config.DataDir = dataDir
	}

	if !devIdentity.IsZero() {
		token, err := GenerateSecureKey(32)
		if err != nil {
			return nil, fmt.Errorf("failed to generate dev token: %w", err)
		}
		config.Auth.Mode = AuthModeBoth
		config.Auth.StaticTokens = map[string]string{token: devIdentity.String()}
	}

	if err := SaveConfig(config, configPath); err != nil {
		return nil, fmt.Errorf("failed to save bootstrap config: %w", err)
	}

	return config, nil
}

// GetDefaultConfigPath returns the default configuration path for the current platform
func GetDefaultConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./quill.yaml"
	}

	// ~/.config/quill/config.yaml
	return filepath.Join(homeDir, ".config", "quill", "config.yaml")
}

// ConfigExists checks if a configuration file exists
func ConfigExists(configPath string) bool {
	_, err := os.Stat(configPath)
	return !os.IsNotExist(err)
}
