package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ssargent/quill/pkg/codec"
	"github.com/ssargent/quill/pkg/config"
)

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize Quill for local development",
	Long: `Initialize a Quill configuration and data directory.

This command will:
- Write a default configuration file
- Create the data directory
- With --dev, generate an author key and a static token for it

Examples:
  quill init --data-dir=./data
  quill init --dev --config=./quill.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		if configPath == "" {
			configPath = config.GetDefaultConfigPath()
		}
		dataDir, _ := cmd.Flags().GetString("data-dir")
		dev, _ := cmd.Flags().GetBool("dev")
		force, _ := cmd.Flags().GetBool("force")

		cmd.Printf("Initializing Quill...\n")
		cmd.Printf("Config file: %s\n", configPath)
		cmd.Printf("Data directory: %s\n", dataDir)

		result, err := initialize(configPath, dataDir, dev, force)
		if err != nil {
			return err
		}

		if result.KeyPath != "" {
			cmd.Printf("Author key: %s\n", result.KeyPath)
			cmd.Printf("Identity: %s\n", result.Identity)
			cmd.Printf("Dev token: %s\n", result.DevToken)
		}
		cmd.Printf("Quill initialized. Start the server with 'quill serve --config %s'\n", configPath)
		return nil
	},
}

type initResult struct {
	Config   *config.Config
	KeyPath  string
	Identity codec.Identity
	DevToken string
}

// initialize writes a bootstrap configuration and creates the data
// directory. In dev mode an author key is generated next to the data and a
// static token is registered for it.
func initialize(configPath, dataDir string, dev, force bool) (*initResult, error) {
	if config.ConfigExists(configPath) && !force {
		return nil, fmt.Errorf("config %s already exists, use --force to overwrite", configPath)
	}
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	result := &initResult{}
	var devIdentity codec.Identity
	if dev {
		result.KeyPath = filepath.Join(dataDir, "dev.key")
		id, err := generateKeyFile(result.KeyPath)
		if err != nil {
			return nil, err
		}
		devIdentity = id
		result.Identity = id
	}

	cfg, err := config.BootstrapConfig(configPath, dataDir, devIdentity)
	if err != nil {
		return nil, err
	}
	result.Config = cfg
	for token := range cfg.Auth.StaticTokens {
		result.DevToken = token
	}
	return result, nil
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().Bool("dev", false, "Generate an author key and a static dev token")
	initCmd.Flags().Bool("force", false, "Overwrite an existing configuration")
}
