package main

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"regulation-rag/internal/helper"
	"regulation-rag/internal/ingestion"
)

var (
	ingestReset  bool
	ingestDryRun bool
	ingestExport string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [DIR]",
	Short: "Index the documents of a folder",
	Long: `Extracts, chunks and embeds every supported document directly under DIR
(the configured document root by default) and inserts the chunks into the
collection. Without --reset the records are appended to what is already
stored, so re-running on the same folder stores duplicates.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestReset, "reset", false, "drop and recreate the collection first")
	ingestCmd.Flags().BoolVar(&ingestDryRun, "dry-run", false, "print the planned chunks without embedding or storing them")
	ingestCmd.Flags().StringVar(&ingestExport, "export", "", "write an encrypted snapshot of the collection to this file")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	root := cfg.Documents.Root
	if len(args) == 1 {
		root = args[0]
	}
	if !helper.DirExists(root) {
		return fmt.Errorf("document folder %s does not exist", root)
	}
	if ingestReset {
		cfg.RAG.Reset = true
	}

	if ingestDryRun {
		p, err := ingestion.NewPipeline(nil, nil, cfg)
		if err != nil {
			return err
		}
		chunks, err := p.Plan(root)
		if err != nil {
			return err
		}
		helper.PrettyPrint(cmd.OutOrStdout(), chunks)
		log.Info().Int("chunks", len(chunks)).Msg("Dry run, nothing stored")
		return nil
	}

	idx, err := openIndex(ctx, cfg)
	if err != nil {
		return err
	}
	defer idx.Close()

	embedder, closeEmbedder, err := newEmbedder(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeEmbedder()

	p, err := ingestion.NewPipeline(idx, embedder, cfg)
	if err != nil {
		return err
	}
	stats, err := p.Ingest(ctx, root)
	if err != nil {
		var fileErr *ingestion.FileError
		if errors.As(err, &fileErr) {
			log.Error().Str("source", fileErr.Source).Err(fileErr.Err).Msg("Ingestion stopped")
		}
		return err
	}

	if ingestExport != "" {
		s, err := asSnapshotter(idx)
		if err != nil {
			return err
		}
		if err := s.Export(ctx, cfg.Database.Collection, ingestExport); err != nil {
			return err
		}
		log.Info().Str("file", ingestExport).Msg("Exported snapshot")
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Collection %s now holds %d records\n", cfg.Database.Collection, stats.Total)
	return nil
}
