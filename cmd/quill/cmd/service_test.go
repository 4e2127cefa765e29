package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssargent/quill/pkg/config"
)

func TestServiceCommands(t *testing.T) {
	tmpDir := t.TempDir()
	dataDir := filepath.Join(tmpDir, "data")
	configPath := filepath.Join(tmpDir, "config.yaml")

	t.Run("systemd unit content", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.DataDir = "/var/lib/quill"

		unit := renderSystemdUnit(cfg, "/etc/quill/config.yaml", "testuser", "/usr/local/bin/quill")
		assert.Contains(t, unit, "User=testuser")
		assert.Contains(t, unit, "Group=testuser")
		assert.Contains(t, unit, "ExecStart=/usr/local/bin/quill serve --config /etc/quill/config.yaml")
		assert.Contains(t, unit, "ReadWritePaths=/var/lib/quill")
		assert.Contains(t, unit, "ReadWritePaths=/etc/quill")
	})

	t.Run("write unit file", func(t *testing.T) {
		unitPath := filepath.Join(tmpDir, "quill.service")
		require.NoError(t, writeSystemdUnit(unitPath, "[Unit]\n"))

		info, err := os.Stat(unitPath)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	})

	t.Run("bootstrap service config", func(t *testing.T) {
		cfg, err := ensureServiceConfig(configPath, dataDir)
		require.NoError(t, err)
		assert.Equal(t, dataDir, cfg.DataDir)
		assert.FileExists(t, configPath)
		assert.Empty(t, cfg.Auth.StaticTokens)
	})

	t.Run("existing config is retargeted", func(t *testing.T) {
		other := filepath.Join(tmpDir, "elsewhere")
		cfg, err := ensureServiceConfig(configPath, other)
		require.NoError(t, err)
		assert.Equal(t, other, cfg.DataDir)

		loaded, err := config.LoadConfig(configPath)
		require.NoError(t, err)
		assert.Equal(t, other, loaded.DataDir)
	})

	t.Run("journalctl arguments", func(t *testing.T) {
		assert.Equal(t, []string{"-u", serviceName}, journalctlArgs(false, 0))
		assert.Equal(t, []string{"-u", serviceName, "-f", "-n20"}, journalctlArgs(true, 20))
	})

	t.Run("service command structure", func(t *testing.T) {
		assert.Equal(t, "service", serviceCmd.Use)
		assert.Contains(t, serviceCmd.Short, "systemd")

		var names []string
		for _, c := range serviceCmd.Commands() {
			names = append(names, c.Name())
		}
		for _, want := range []string{"install", "start", "stop", "restart", "status", "logs", "uninstall"} {
			assert.Contains(t, names, want)
		}
	})
}
