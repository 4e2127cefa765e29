package cmd

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ssargent/quill/pkg/codec"
	"github.com/ssargent/quill/pkg/di"
	"github.com/ssargent/quill/pkg/render"
)

// getCmd represents the get command
var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a stored post",
	Long: `Show a post from the local ledger.

Examples:
  quill get 0
  quill get 0 --html
  quill get 1 --raw > content.bin`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		mode := getModeSummary
		if raw, _ := cmd.Flags().GetBool("raw"); raw {
			mode = getModeRaw
		}
		if html, _ := cmd.Flags().GetBool("html"); html {
			mode = getModeHTML
		}
		return runGet(cmd.Context(), container, id, mode, cmd.OutOrStdout())
	},
}

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored posts",
	Long: `List posts in id order.

Example:
  quill list --from 10 --limit 20`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetUint32("from")
		limit, _ := cmd.Flags().GetInt("limit")
		return runList(cmd.Context(), container, from, limit, cmd.OutOrStdout())
	},
}

type getMode int

const (
	getModeSummary getMode = iota
	getModeRaw
	getModeHTML
)

func runGet(ctx context.Context, c *di.Container, id uint32, mode getMode, w io.Writer) error {
	store, err := c.Ledger(ctx)
	if err != nil {
		return err
	}
	post, err := store.Get(id)
	if err != nil {
		return fmt.Errorf("failed to get post %d: %w", id, err)
	}

	switch mode {
	case getModeRaw:
		_, err := w.Write(post.Content.Bytes())
		return err
	case getModeHTML:
		html, err := render.HTML(post.Content)
		if err != nil {
			return err
		}
		_, err = w.Write(html)
		return err
	}

	fmt.Fprintf(w, "ID:      %d\n", id)
	fmt.Fprintf(w, "Title:   %s\n", string(post.Title))
	fmt.Fprintf(w, "Author:  %s\n", post.Author)
	fmt.Fprintf(w, "Kind:    %s\n", post.Content.Kind())
	fmt.Fprintf(w, "Content: %s\n", displayContent(post.Content))
	return nil
}

func runList(ctx context.Context, c *di.Container, from uint32, limit int, w io.Writer) error {
	store, err := c.Ledger(ctx)
	if err != nil {
		return err
	}
	entries, err := store.List(ctx, from, limit)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", e.ID, e.Post.Content.Kind(), e.Post.Author, string(e.Post.Title))
	}
	return nil
}

// displayContent prints plaintext as is and encrypted bytes as base64.
func displayContent(c codec.Content) string {
	if c.Kind() == codec.KindEncrypted {
		return base64.StdEncoding.EncodeToString(c.Bytes())
	}
	return string(c.Bytes())
}

func parseID(s string) (uint32, error) {
	id, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid post id %q: %w", s, err)
	}
	return uint32(id), nil
}

func init() {
	rootCmd.AddCommand(getCmd)
	getCmd.Flags().Bool("raw", false, "Write the content bytes only")
	getCmd.Flags().Bool("html", false, "Render plaintext content as sanitized HTML")

	rootCmd.AddCommand(listCmd)
	listCmd.Flags().Uint32("from", 0, "First post id")
	listCmd.Flags().Int("limit", 50, "Maximum number of posts")
}
