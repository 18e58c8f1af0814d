package main

import (
	"strings"

	"github.com/spf13/cobra"

	"regulation-rag/internal/helper"
)

var askJSON bool

var askCmd = &cobra.Command{
	Use:   "ask QUESTION",
	Short: "Answer a single question",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().BoolVar(&askJSON, "json", false, "print the response as JSON")
	askCmd.Flags().StringVar(&importPath, "import", "", "load an encrypted collection snapshot first")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	p, err := openPipeline(ctx)
	if err != nil {
		return err
	}
	defer p.close()

	resp, err := p.rag.Query(ctx, strings.Join(args, " "), nil)
	if err != nil {
		return err
	}

	if askJSON {
		helper.PrettyPrint(cmd.OutOrStdout(), resp)
		return nil
	}
	cmd.Println(resp.Answer)
	if len(resp.Sources) > 0 {
		cmd.Println()
		cmd.Println("Sources:")
		for _, s := range resp.Sources {
			if s.URL != "" {
				cmd.Printf("  - %s (%s)\n", s.Name, s.URL)
			} else {
				cmd.Printf("  - %s\n", s.Name)
			}
		}
	}
	return nil
}
