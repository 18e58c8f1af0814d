package main

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"regulation-rag/internal/tui"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat about the regulations in the terminal",
	Long: `Launch the interactive terminal chat. The conversation so far is sent
along with every question.

Controls:
  Enter       - Ask
  Esc, Ctrl+C - Quit`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&importPath, "import", "", "load an encrypted collection snapshot first")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	p, err := openPipeline(ctx)
	if err != nil {
		return err
	}
	defer p.close()

	// log lines would corrupt the full-screen UI
	zerolog.SetGlobalLevel(zerolog.ErrorLevel)

	model := tui.New(ctx, p.rag, cfg.Messages.Domain+" regulations")
	_, err = tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}
