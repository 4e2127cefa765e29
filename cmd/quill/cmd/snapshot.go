package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ssargent/quill/pkg/di"
	"github.com/ssargent/quill/pkg/snapshot"
)

// exportCmd represents the export command
var exportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Write a snapshot of the ledger",
	Long: `Write every stored key, including the id counter and storage version, to
a compressed snapshot file.

Example:
  quill export ledger.snap`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExport(cmd.Context(), container, args[0], cmd.OutOrStdout())
	},
}

// importCmd represents the import command
var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Restore a snapshot into an empty ledger",
	Long: `Load a snapshot written by 'quill export' into the configured backend.
The backend must be empty.

Example:
  quill import --data-dir ./restored ledger.snap`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if inspect, _ := cmd.Flags().GetBool("inspect"); inspect {
			return runInspect(cmd.Context(), args[0], cmd.OutOrStdout())
		}
		return runImport(cmd.Context(), container, args[0], cmd.OutOrStdout())
	},
}

func runExport(ctx context.Context, c *di.Container, path string, w io.Writer) error {
	backend, err := c.Backend()
	if err != nil {
		return err
	}
	header, err := snapshot.WriteFile(ctx, backend, path)
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	fmt.Fprintf(w, "Exported %d entries to %s\n", header.Entries, path)
	return nil
}

func runImport(ctx context.Context, c *di.Container, path string, w io.Writer) error {
	backend, err := c.Backend()
	if err != nil {
		return err
	}
	header, err := snapshot.ReadFile(ctx, backend, path)
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}
	fmt.Fprintf(w, "Imported %d entries from %s (created %s)\n", header.Entries, path, header.CreatedAt.Format("2006-01-02 15:04:05"))
	return nil
}

func runInspect(ctx context.Context, path string, w io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	header, err := snapshot.Inspect(ctx, f)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Format:  %d\n", header.Format)
	fmt.Fprintf(w, "Entries: %d\n", header.Entries)
	fmt.Fprintf(w, "Created: %s\n", header.CreatedAt.Format("2006-01-02 15:04:05"))
	return nil
}

func init() {
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().Bool("inspect", false, "Verify the snapshot and print its header without importing")
}
