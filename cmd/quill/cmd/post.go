package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ssargent/quill/pkg/auth"
	"github.com/ssargent/quill/pkg/di"
	"github.com/ssargent/quill/pkg/dispatch"
)

// postCmd represents the post command
var postCmd = &cobra.Command{
	Use:   "post <title> [content]",
	Short: "Store a post",
	Long: `Store a post in the local ledger and print its receipt.

The caller is identified by --token, or by a token signed on the spot with
the key in --key. Content is taken from the second argument or, with
--file, from a file ('-' reads stdin).

Examples:
  quill post --key author.key "hello" "world"
  quill post --token $TOKEN --encrypted --file secret.bin "sealed"`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := postOptions{Title: []byte(args[0])}
		opts.Encrypted, _ = cmd.Flags().GetBool("encrypted")
		opts.Token, _ = cmd.Flags().GetString("token")
		opts.KeyPath, _ = cmd.Flags().GetString("key")
		file, _ := cmd.Flags().GetString("file")

		switch {
		case file != "" && len(args) == 2:
			return errors.New("content given both as argument and --file")
		case file != "":
			content, err := readContent(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			opts.Content = content
		case len(args) == 2:
			opts.Content = []byte(args[1])
		default:
			return errors.New("content is required")
		}

		return runPost(cmd.Context(), container, opts, cmd.OutOrStdout())
	},
}

type postOptions struct {
	Title     []byte
	Content   []byte
	Encrypted bool
	Token     string
	KeyPath   string
}

func runPost(ctx context.Context, c *di.Container, opts postOptions, w io.Writer) error {
	origin, err := resolveOrigin(opts.Token, opts.KeyPath)
	if err != nil {
		return err
	}

	d, err := c.Dispatcher(ctx)
	if err != nil {
		return err
	}

	call := dispatch.CallPost
	if opts.Encrypted {
		call = dispatch.CallPostEncrypted
	}
	receipt, err := d.Call(ctx, call, origin, opts.Title, opts.Content)
	if err != nil {
		return fmt.Errorf("%s failed: %w", call, err)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(receipt)
}

// resolveOrigin returns the origin presented by the CLI caller. An explicit
// token wins over a key file.
func resolveOrigin(token, keyPath string) (auth.Origin, error) {
	if token != "" {
		return auth.Origin{Token: token}, nil
	}
	if keyPath == "" {
		return auth.Origin{}, errors.New("either --token or --key is required")
	}
	priv, err := readKeyFile(keyPath)
	if err != nil {
		return auth.Origin{}, err
	}
	signed, err := auth.SignToken(priv, time.Minute, time.Now())
	if err != nil {
		return auth.Origin{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return auth.Origin{Token: signed}, nil
}

func readContent(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read content: %w", err)
	}
	return data, nil
}

func init() {
	rootCmd.AddCommand(postCmd)
	postCmd.Flags().Bool("encrypted", false, "Store the content as encrypted (opaque) bytes")
	postCmd.Flags().String("token", "", "Origin token")
	postCmd.Flags().StringP("key", "k", "", "Sign an origin token with this key file")
	postCmd.Flags().StringP("file", "f", "", "Read content from a file ('-' for stdin)")
}
