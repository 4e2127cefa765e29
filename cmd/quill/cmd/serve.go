package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ssargent/quill/pkg/di"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long: `Start the Quill REST API server.

The server exposes the post and post_encrypted calls, read access to stored
posts, a websocket stream of RecordStored events and Prometheus metrics.

Examples:
  quill serve --config ./quill.yaml
  quill serve --port 9090 --bind 0.0.0.0`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := container.Config()
		if cmd.Flags().Changed("port") {
			cfg.Server.Port, _ = cmd.Flags().GetInt("port")
		}
		if cmd.Flags().Changed("bind") {
			cfg.Server.Bind, _ = cmd.Flags().GetString("bind")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, container)
	},
}

func runServe(ctx context.Context, c *di.Container) error {
	server, err := c.Server(ctx)
	if err != nil {
		return err
	}
	starter := c.GetServerFactory().CreateServerStarter()
	return starter.StartServer(ctx, server, c.ServerConfig())
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntP("port", "p", 8080, "Port to listen on")
	serveCmd.Flags().String("bind", "127.0.0.1", "Address to bind to")
}
