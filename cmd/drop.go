package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var dropCmd = &cobra.Command{
	Use:   "drop",
	Short: "Drop the configured collection if it exists",
	Args:  cobra.NoArgs,
	RunE:  runDrop,
}

func init() {
	rootCmd.AddCommand(dropCmd)
}

func runDrop(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	idx, err := openIndex(ctx, cfg)
	if err != nil {
		return err
	}
	defer idx.Close()

	name := cfg.Database.Collection
	ok, err := idx.Exists(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		log.Info().Str("collection", name).Msg("Collection not found, nothing to drop")
		return nil
	}
	if err := idx.Drop(ctx, name); err != nil {
		return err
	}
	log.Info().Str("collection", name).Msg("Dropped collection")
	return nil
}
