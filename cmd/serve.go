package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"regulation-rag/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chat API and the source documents over HTTP",
	Long: `Starts the HTTP API:

  POST /chat    {"message": "...", "history": [{"role": "user", "content": "..."}]}
  GET  /health
  GET  /docs/*  source documents (when the document root exists)`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&importPath, "import", "", "load an encrypted collection snapshot before serving")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := openPipeline(ctx)
	if err != nil {
		return err
	}
	defer p.close()

	return server.New(p.rag, cfg).ListenAndServe(ctx)
}
