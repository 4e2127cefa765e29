package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ssargent/quill/pkg/di"
)

// migrateCmd represents the migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Upgrade stored posts to the current schema",
	Long: `Rewrite every stored post in the current record layout and bump the
storage version. The upgrade is applied as a single atomic batch; entries
that cannot be decoded are left in place and reported.

Examples:
  quill migrate --dry-run
  quill migrate --backup`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := di.MigrateOptions{Backup: container.Config().Migration.Backup}
		if cmd.Flags().Changed("backup") {
			opts.Backup, _ = cmd.Flags().GetBool("backup")
		}
		opts.DryRun, _ = cmd.Flags().GetBool("dry-run")
		return runMigrate(cmd.Context(), container, opts, cmd.OutOrStdout())
	},
}

func runMigrate(ctx context.Context, c *di.Container, opts di.MigrateOptions, w io.Writer) error {
	report, backupPath, err := c.Migrate(ctx, opts)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	if report.AlreadyCurrent {
		fmt.Fprintf(w, "Storage is already at %s, nothing to do\n", report.To)
		return nil
	}
	if backupPath != "" {
		fmt.Fprintf(w, "Backup written to %s\n", backupPath)
	}

	verb := "Migrated"
	if report.DryRun {
		verb = "Would migrate"
	}
	fmt.Fprintf(w, "%s %d posts from %s to %s in %s\n", verb, report.Migrated, report.From, report.To, report.Duration)
	for _, s := range report.Skipped {
		fmt.Fprintf(w, "Skipped post %d: %v\n", s.ID, s.Err)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().Bool("backup", true, "Write a snapshot before migrating")
	migrateCmd.Flags().Bool("dry-run", false, "Report what would change without writing")
}
