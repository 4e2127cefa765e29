package config

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ssargent/quill/pkg/codec"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, "./data", config.DataDir)
	assert.Equal(t, "pebble", config.Storage.Backend)
	assert.True(t, config.Storage.Sync)
	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, "127.0.0.1", config.Server.Bind)
	assert.Equal(t, AuthModeToken, config.Auth.Mode)
	assert.Equal(t, time.Hour, config.Auth.MaxTokenAge)
	assert.Equal(t, "events.log", config.Events.Journal)
	assert.False(t, config.Migration.Auto)
	assert.True(t, config.Migration.Backup)
	assert.Equal(t, "info", config.Logging.Level)
	assert.Equal(t, "text", config.Logging.Format)
	assert.NoError(t, config.Validate())
}

func TestGenerateSecureKey(t *testing.T) {
	t.Run("generate 32 byte key", func(t *testing.T) {
		key, err := GenerateSecureKey(32)
		require.NoError(t, err)
		assert.Len(t, key, 64)

		_, err = hex.DecodeString(key)
		assert.NoError(t, err)
	})

	t.Run("generate different keys", func(t *testing.T) {
		key1, err := GenerateSecureKey(16)
		require.NoError(t, err)
		key2, err := GenerateSecureKey(16)
		require.NoError(t, err)

		assert.NotEqual(t, key1, key2)
	})

	t.Run("zero length", func(t *testing.T) {
		key, err := GenerateSecureKey(0)
		require.NoError(t, err)
		assert.Empty(t, key)
	})
}

func TestLoadConfig(t *testing.T) {
	t.Run("load existing config", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.yaml")
		expectedConfig := &Config{
			DataDir: "/custom/data",
			Storage: Storage{Backend: "sqlite", Sync: false},
			Server:  Server{Bind: "0.0.0.0", Port: 9000, CORSOrigins: []string{"https://example.com"}},
			Auth: Auth{
				Mode:         AuthModeStatic,
				MaxTokenAge:  5 * time.Minute,
				StaticTokens: map[string]string{"dev": codec.Identity{1}.String()},
			},
			Events:    Events{Journal: "/var/log/quill/events.log", FsyncInterval: time.Second},
			Migration: Migration{Auto: true, Backup: false},
			Logging:   Logging{Level: "debug", Format: "json"},
		}

		err := SaveConfig(expectedConfig, configPath)
		require.NoError(t, err)

		loadedConfig, err := LoadConfig(configPath)
		require.NoError(t, err)
		assert.Equal(t, expectedConfig, loadedConfig)
	})

	t.Run("missing fields keep defaults", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(configPath, []byte("data_dir: /srv/quill\nserver:\n  port: 9090\n"), 0600))

		loadedConfig, err := LoadConfig(configPath)
		require.NoError(t, err)
		assert.Equal(t, "/srv/quill", loadedConfig.DataDir)
		assert.Equal(t, 9090, loadedConfig.Server.Port)
		assert.Equal(t, "127.0.0.1", loadedConfig.Server.Bind)
		assert.Equal(t, "pebble", loadedConfig.Storage.Backend)
	})

	t.Run("load non-existent config", func(t *testing.T) {
		_, err := LoadConfig("/non/existent/config.yaml")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "config file does not exist")
	})

	t.Run("load invalid yaml", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "invalid.yaml")
		require.NoError(t, os.WriteFile(configPath, []byte("invalid: yaml: content: ["), 0600))

		_, err := LoadConfig(configPath)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse config file")
	})
}

func TestSaveConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "config.yaml")
	config := DefaultConfig()

	err := SaveConfig(config, configPath)
	require.NoError(t, err)

	info, err := os.Stat(configPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loadedConfig, err := LoadConfig(configPath)
	require.NoError(t, err)
	assert.Equal(t, config, loadedConfig)
}

func TestBootstrapConfig(t *testing.T) {
	t.Run("without dev identity", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.yaml")

		config, err := BootstrapConfig(configPath, "/custom/data/dir", codec.Identity{})
		require.NoError(t, err)
		assert.Equal(t, "/custom/data/dir", config.DataDir)
		assert.Equal(t, AuthModeToken, config.Auth.Mode)
		assert.Empty(t, config.Auth.StaticTokens)
		assert.True(t, ConfigExists(configPath))
	})

	t.Run("with dev identity", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.yaml")
		dev := codec.Identity{0xde, 0xad}

		config, err := BootstrapConfig(configPath, "", dev)
		require.NoError(t, err)
		assert.Equal(t, "./data", config.DataDir)
		assert.Equal(t, AuthModeBoth, config.Auth.Mode)
		require.Len(t, config.Auth.StaticTokens, 1)

		ids, err := config.StaticIdentities()
		require.NoError(t, err)
		for token, id := range ids {
			assert.Len(t, token, 64)
			assert.Equal(t, dev, id)
		}

		loadedConfig, err := LoadConfig(configPath)
		require.NoError(t, err)
		assert.Equal(t, config, loadedConfig)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"unknown backend", func(c *Config) { c.Storage.Backend = "redis" }, "unknown storage backend"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "invalid port"},
		{"bad auth mode", func(c *Config) { c.Auth.Mode = "none" }, "unknown auth mode"},
		{"negative age", func(c *Config) { c.Auth.MaxTokenAge = -time.Second }, "max_token_age"},
		{"bad identity", func(c *Config) { c.Auth.StaticTokens = map[string]string{"t": "zz"} }, "static token identity"},
		{"empty token", func(c *Config) { c.Auth.StaticTokens = map[string]string{"": codec.Identity{}.String()} }, "must not be empty"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "unknown log format"},
		{"missing data dir", func(c *Config) { c.DataDir = "" }, "data_dir is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			err := config.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	t.Run("memory backend needs no data dir", func(t *testing.T) {
		config := DefaultConfig()
		config.DataDir = ""
		config.Storage.Backend = "memory"
		assert.NoError(t, config.Validate())
	})
}

func TestJournalPath(t *testing.T) {
	config := DefaultConfig()
	config.DataDir = "/srv/quill"
	assert.Equal(t, filepath.Join("/srv/quill", "events.log"), config.JournalPath())

	config.Events.Journal = "/var/log/events.log"
	assert.Equal(t, "/var/log/events.log", config.JournalPath())

	config.Events.Journal = ""
	assert.Empty(t, config.JournalPath())
}

func TestBackupPath(t *testing.T) {
	config := DefaultConfig()
	config.DataDir = "/srv/quill"
	at := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	assert.Equal(t, "/srv/quill/backups/pre-migrate-20250304T050607Z.snap", config.BackupPath(at))
}

func TestGetDefaultConfigPath(t *testing.T) {
	path := GetDefaultConfigPath()
	assert.NotEmpty(t, path)
	assert.Contains(t, path, "quill")
	assert.Contains(t, path, ".yaml")
}

func TestConfigExists(t *testing.T) {
	tmpDir := t.TempDir()
	existingPath := filepath.Join(tmpDir, "exists.yaml")
	nonExistentPath := filepath.Join(tmpDir, "does-not-exist.yaml")

	require.NoError(t, os.WriteFile(existingPath, []byte("test"), 0644))

	assert.True(t, ConfigExists(existingPath))
	assert.False(t, ConfigExists(nonExistentPath))
}

func TestConfigYAMLMarshalling(t *testing.T) {
	config := DefaultConfig()
	config.Events.FsyncInterval = 250 * time.Millisecond

	data, err := yaml.Marshal(config)
	require.NoError(t, err)
	assert.Contains(t, string(data), "fsync_interval: 250ms")

	var unmarshalled Config
	require.NoError(t, yaml.Unmarshal(data, &unmarshalled))
	assert.Equal(t, config, &unmarshalled)
}

func TestSaveConfigErrorHandling(t *testing.T) {
	config := DefaultConfig()

	// A regular file where a directory is needed.
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0600))

	err := SaveConfig(config, filepath.Join(blocker, "config.yaml"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create config directory")
}
