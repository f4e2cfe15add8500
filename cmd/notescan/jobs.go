package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List recorded jobs for a tenant",
	RunE: func(cmd *cobra.Command, _ []string) error {
		tenantID, _ := cmd.Flags().GetString("tenant")

		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		list, err := store.ListJobs(ctx, tenantID)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("no jobs recorded")
			return nil
		}
		for _, j := range list {
			when := j.CreatedAt
			if j.StartedAt != nil {
				when = *j.StartedAt
			}
			fmt.Printf("%s  %-10s  %-9s  %5.1f%%  %s\n",
				j.ID, j.Kind, j.State, j.Progress.Percentage,
				when.Format(time.RFC3339))
			if j.Error != "" {
				fmt.Printf("    error: %s\n", j.Error)
			}
		}
		return nil
	},
}

func init() {
	jobsCmd.Flags().String("tenant", "", "tenant to list jobs for")
	_ = jobsCmd.MarkFlagRequired("tenant")
}
