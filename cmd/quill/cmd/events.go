package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/ssargent/quill/pkg/events"
)

// eventsCmd represents the events command
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Print the event journal",
	Long: `Replay the RecordStored journal written by the dispatcher.

Examples:
  quill events
  quill events --json --limit 10`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := container.Config().JournalPath()
		if path == "" {
			return errors.New("the event journal is disabled (events.journal is empty)")
		}
		asJSON, _ := cmd.Flags().GetBool("json")
		limit, _ := cmd.Flags().GetInt("limit")
		return runEvents(cmd.Context(), path, asJSON, limit, cmd.OutOrStdout())
	},
}

type eventLine struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	events.RecordStored
}

func runEvents(ctx context.Context, path string, asJSON bool, limit int, w io.Writer) error {
	enc := json.NewEncoder(w)
	n := 0
	err := events.ReplayFile(ctx, path, func(e events.Entry) error {
		if limit > 0 && n >= limit {
			return events.ErrStop
		}
		n++
		if asJSON {
			return enc.Encode(eventLine{
				ID:           e.ID.String(),
				Timestamp:    e.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
				RecordStored: e.Event,
			})
		}
		_, err := fmt.Fprintf(w, "%s  %s  post=%d author=%s\n",
			e.Timestamp.UTC().Format("2006-01-02 15:04:05"), e.ID, e.Event.PostID, e.Event.Author)
		return err
	})
	if errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(w, "No events recorded")
		return nil
	}
	return err
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.Flags().Bool("json", false, "Print one JSON object per event")
	eventsCmd.Flags().Int("limit", 0, "Stop after this many events (0 = all)")
}
