package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/notescan/notescan/internal/dictionary"
	"github.com/notescan/notescan/internal/types"
)

var dictionaryCmd = &cobra.Command{
	Use:   "dictionary",
	Short: "Manage the symptom dictionary",
}

var dictionaryLoadCmd = &cobra.Command{
	Use:   "load <seed-file>",
	Short: "Load a dictionary seed file for a tenant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tenantID, _ := cmd.Flags().GetString("tenant")

		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		raw, err := dictionary.ParseSeedFile(args[0], tenantID)
		if err != nil {
			return err
		}
		entries, stats := dictionary.Reconcile(raw)
		br, err := store.InsertDictionary(ctx, tenantID, entries)
		if err != nil {
			return err
		}
		fmt.Printf("loaded %d entries (%d new, %d already present)\n",
			len(entries), br.Inserted, br.Skipped)
		if stats.ExactDuplicates+stats.IDCollisions+stats.Invalid > 0 {
			fmt.Printf("reconciled: %d exact duplicates dropped, %d ID collisions renamed, %d invalid rows\n",
				stats.ExactDuplicates, stats.IDCollisions, stats.Invalid)
		}
		return nil
	},
}

var dictionaryStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show dictionary entry counts for a tenant",
	RunE: func(cmd *cobra.Command, _ []string) error {
		tenantID, _ := cmd.Flags().GetString("tenant")

		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		entries, err := store.ListDictionary(ctx, tenantID)
		if err != nil {
			return err
		}
		symptoms, problems := 0, 0
		for _, e := range entries {
			if e.Kind == types.KindProblem {
				problems++
			} else {
				symptoms++
			}
		}
		fmt.Printf("%d entries: %d symptoms, %d problems\n", len(entries), symptoms, problems)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{dictionaryLoadCmd, dictionaryStatsCmd} {
		c.Flags().String("tenant", "", "tenant the dictionary belongs to")
		_ = c.MarkFlagRequired("tenant")
	}
	dictionaryCmd.AddCommand(dictionaryLoadCmd, dictionaryStatsCmd)
}
