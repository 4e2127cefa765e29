package cmd

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ssargent/quill/pkg/auth"
	"github.com/ssargent/quill/pkg/codec"
)

// keygenCmd represents the keygen command
var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a signing key pair",
	Long: `Generate an ed25519 key pair. The private seed is written hex encoded to
the output file and the public identity is printed.

Example:
  quill keygen --out ~/.config/quill/author.key`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")
		force, _ := cmd.Flags().GetBool("force")

		if _, err := os.Stat(out); err == nil && !force {
			return fmt.Errorf("key file %s already exists, use --force to overwrite", out)
		}

		id, err := generateKeyFile(out)
		if err != nil {
			return err
		}
		cmd.Printf("Key written to %s\n", out)
		cmd.Printf("Identity: %s\n", id)
		return nil
	},
}

// tokenCmd represents the token command
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a signed origin token",
	Long: `Issue a signed origin token for the key in --key. The token is presented
as 'Authorization: Bearer <token>' to the REST API or with --token to
'quill post'.

Example:
  quill token --key author.key --ttl 30m`,
	RunE: func(cmd *cobra.Command, args []string) error {
		keyPath, _ := cmd.Flags().GetString("key")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		priv, err := readKeyFile(keyPath)
		if err != nil {
			return err
		}
		token, err := auth.SignToken(priv, ttl, time.Now())
		if err != nil {
			return fmt.Errorf("failed to sign token: %w", err)
		}
		cmd.Println(token)
		return nil
	},
}

// generateKeyFile creates a fresh key pair, stores its seed at path and
// returns the public identity.
func generateKeyFile(path string) (codec.Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return codec.Identity{}, fmt.Errorf("failed to generate key: %w", err)
	}
	if err := writeKeyFile(path, priv); err != nil {
		return codec.Identity{}, err
	}
	return codec.IdentityFromBytes(pub)
}

func writeKeyFile(path string, priv ed25519.PrivateKey) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	data := hex.EncodeToString(priv.Seed()) + "\n"
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return nil
}

// readKeyFile loads a key written by writeKeyFile. Full 64 byte private keys
// are accepted as well as seeds.
func readKeyFile(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	raw, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("key file %s is not hex encoded: %w", path, err)
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	default:
		return nil, fmt.Errorf("key file %s holds %d bytes, want %d", path, len(raw), ed25519.SeedSize)
	}
}

// identityOf returns the identity a key signs as.
func identityOf(priv ed25519.PrivateKey) (codec.Identity, error) {
	return codec.IdentityFromBytes(priv.Public().(ed25519.PublicKey))
}

func init() {
	rootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().StringP("out", "o", "quill.key", "Where to write the private key")
	keygenCmd.Flags().Bool("force", false, "Overwrite an existing key file")

	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().StringP("key", "k", "quill.key", "Private key file")
	tokenCmd.Flags().Duration("ttl", 15*time.Minute, "Token lifetime")
}
