package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/notescan/notescan/internal/dictionary"
	"github.com/notescan/notescan/internal/extract"
	"github.com/notescan/notescan/internal/index"
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Run extraction once for a tenant, without the server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		tenantID, _ := cmd.Flags().GetString("tenant")
		if tenantID == "" {
			return fmt.Errorf("--tenant is required")
		}

		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		loader := dictionary.NewLoader(store, cfg.Storage.SeedPath, logger)
		entries, err := loader.Load(ctx, tenantID)
		if err != nil {
			return err
		}
		ix := index.Build(entries)

		notes, err := store.ListNotesWithoutMentions(ctx, tenantID)
		if err != nil {
			return err
		}
		if len(notes) == 0 {
			fmt.Println("all notes already processed")
			return nil
		}

		executor := extract.NewExecutor(extractConfig(cfg), logger)
		res, err := executor.Run(ctx, notes, ix, tenantID, func(p extract.Progress) {
			fmt.Printf("\rprocessed %d/%d notes, %d mentions", p.ProcessedNotes, p.TotalNotes, p.Mentions)
		})
		fmt.Println()
		if err != nil {
			return err
		}

		br, err := store.InsertMentions(ctx, tenantID, res.Mentions)
		if err != nil {
			return err
		}
		fmt.Printf("saved %d mentions (%d duplicates skipped, %d failed)\n",
			br.Inserted, br.Skipped, br.Failed)
		if len(res.ChunkErrors) > 0 {
			fmt.Printf("warning: %d chunks contributed nothing\n", len(res.ChunkErrors))
		}
		return nil
	},
}

func init() {
	extractCmd.Flags().String("tenant", "", "tenant to extract for")
	_ = extractCmd.MarkFlagRequired("tenant")
}
