package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ssargent/quill/pkg/codec"
	"github.com/ssargent/quill/pkg/config"
)

const (
	serviceName     = "quill.service"
	defaultUnitPath = "/etc/systemd/system/" + serviceName
)

// serviceCmd represents the service command
var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage Quill as a systemd service",
	Long: `Manage the Quill API server as a systemd service. The unit runs
'quill serve' with hardened defaults and restarts on failure.`,
}

// installServiceCmd represents the service install command
var installServiceCmd = &cobra.Command{
	Use:   "install",
	Short: "Install Quill as a systemd service",
	Long: `Install Quill as a systemd service.

This will:
- Create or reuse the configuration file
- Generate the systemd unit file
- Enable and optionally start the service

Examples:
  sudo quill service install
  sudo quill service install --data-dir /var/lib/quill --user quill`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		if configPath == "" {
			configPath = config.GetDefaultConfigPath()
		}
		dataDir, _ := cmd.Flags().GetString("service-data-dir")
		user, _ := cmd.Flags().GetString("user")
		binary, _ := cmd.Flags().GetString("binary")
		startNow, _ := cmd.Flags().GetBool("start")

		if os.Geteuid() != 0 {
			return errors.New("service install requires root privileges, run with sudo")
		}

		cfg, err := ensureServiceConfig(configPath, dataDir)
		if err != nil {
			return err
		}
		if err := writeSystemdUnit(defaultUnitPath, renderSystemdUnit(cfg, configPath, user, binary)); err != nil {
			return fmt.Errorf("failed to write unit file: %w", err)
		}
		if err := runSystemctlCommand("daemon-reload"); err != nil {
			return fmt.Errorf("failed to reload systemd: %w", err)
		}
		if err := runSystemctlCommand("enable", serviceName); err != nil {
			return fmt.Errorf("failed to enable service: %w", err)
		}
		if startNow {
			if err := runSystemctlCommand("start", serviceName); err != nil {
				return fmt.Errorf("failed to start service: %w", err)
			}
		}

		cmd.Printf("Service: %s\n", serviceName)
		cmd.Printf("Config: %s\n", configPath)
		cmd.Printf("Data: %s\n", cfg.DataDir)
		cmd.Printf("Listen: %s:%d\n", cfg.Server.Bind, cfg.Server.Port)
		cmd.Printf("To view logs: sudo journalctl -u %s -f\n", serviceName)
		return nil
	},
}

// uninstallServiceCmd represents the service uninstall command
var uninstallServiceCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Uninstall the Quill service",
	RunE: func(cmd *cobra.Command, args []string) error {
		if os.Geteuid() != 0 {
			return errors.New("service uninstall requires root privileges, run with sudo")
		}

		_ = runSystemctlCommand("stop", serviceName)
		if err := runSystemctlCommand("disable", serviceName); err != nil {
			cmd.Printf("Warning: could not disable service: %v\n", err)
		}
		if err := os.Remove(defaultUnitPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove unit file: %w", err)
		}
		if err := runSystemctlCommand("daemon-reload"); err != nil {
			return fmt.Errorf("failed to reload systemd: %w", err)
		}

		cmd.Printf("Quill service uninstalled. Configuration and data were not removed.\n")
		return nil
	},
}

// systemctlCmd runs a plain systemctl action against the unit
func systemctlCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSystemctlCommand(action, serviceName)
		},
	}
}

// logsServiceCmd represents the service logs command
var logsServiceCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show Quill service logs",
	Long: `Show Quill service logs using journalctl.

Examples:
  quill service logs
  quill service logs -f`,
	RunE: func(cmd *cobra.Command, args []string) error {
		follow, _ := cmd.Flags().GetBool("follow")
		lines, _ := cmd.Flags().GetInt("lines")
		return runCommand("journalctl", journalctlArgs(follow, lines)...)
	},
}

// ensureServiceConfig loads the config at configPath or bootstraps one, and
// points it at dataDir when given.
func ensureServiceConfig(configPath, dataDir string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if config.ConfigExists(configPath) {
		cfg, err = config.LoadConfig(configPath)
	} else {
		cfg, err = config.BootstrapConfig(configPath, dataDir, codec.Identity{})
	}
	if err != nil {
		return nil, err
	}

	if dataDir != "" && cfg.DataDir != dataDir {
		cfg.DataDir = dataDir
		if err := config.SaveConfig(cfg, configPath); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// renderSystemdUnit returns the unit file for running the server under user
func renderSystemdUnit(cfg *config.Config, configPath, user, binary string) string {
	return fmt.Sprintf(`[Unit]
Description=Quill post ledger
After=network-online.target
Wants=network-online.target

[Service]
User=%s
Group=%s
ExecStart=%s serve --config %s
Restart=on-failure
NoNewPrivileges=true
UMask=0077
ReadWritePaths=%s
ReadWritePaths=%s

[Install]
WantedBy=multi-user.target
`, user, user, binary, configPath, cfg.DataDir, filepath.Dir(configPath))
}

func writeSystemdUnit(path, content string) error {
	return os.WriteFile(path, []byte(content), 0600)
}

func journalctlArgs(follow bool, lines int) []string {
	args := []string{"-u", serviceName}
	if follow {
		args = append(args, "-f")
	}
	if lines > 0 {
		args = append(args, fmt.Sprintf("-n%d", lines))
	}
	return args
}

// runSystemctlCommand runs a systemctl command
func runSystemctlCommand(args ...string) error {
	return runCommand("systemctl", args...)
}

// runCommand runs a system command and returns its error
func runCommand(command string, args ...string) error {
	cmd := exec.Command(command, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func init() {
	rootCmd.AddCommand(serviceCmd)

	serviceCmd.AddCommand(installServiceCmd)
	serviceCmd.AddCommand(systemctlCmd("start", "Start the Quill service"))
	serviceCmd.AddCommand(systemctlCmd("stop", "Stop the Quill service"))
	serviceCmd.AddCommand(systemctlCmd("restart", "Restart the Quill service"))
	serviceCmd.AddCommand(systemctlCmd("status", "Show Quill service status"))
	serviceCmd.AddCommand(logsServiceCmd)
	serviceCmd.AddCommand(uninstallServiceCmd)

	installServiceCmd.Flags().String("service-data-dir", "/var/lib/quill", "Data directory for the service")
	installServiceCmd.Flags().String("user", "quill", "User to run the service as")
	installServiceCmd.Flags().String("binary", "/usr/local/bin/quill", "Path of the installed quill binary")
	installServiceCmd.Flags().Bool("start", true, "Start the service after installation")

	logsServiceCmd.Flags().BoolP("follow", "f", false, "Follow log output")
	logsServiceCmd.Flags().IntP("lines", "n", 0, "Number of lines to show")
}
