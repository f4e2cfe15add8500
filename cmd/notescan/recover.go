package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/notescan/notescan/internal/recovery"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Recovery operations for a tenant",
}

var recoverClearCmd = &cobra.Command{
	Use:   "clear-mentions",
	Short: "Delete every extracted mention, keeping notes and patients",
	RunE: func(cmd *cobra.Command, _ []string) error {
		tenantID, _ := cmd.Flags().GetString("tenant")

		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		n, err := recovery.NewOps(store, logger).ClearMentions(ctx, tenantID)
		if err != nil {
			return err
		}
		fmt.Printf("deleted %d mentions\n", n)
		return nil
	},
}

var recoverResetCmd = &cobra.Command{
	Use:   "reset-status",
	Short: "Force the process status back to a ready state",
	RunE: func(cmd *cobra.Command, _ []string) error {
		tenantID, _ := cmd.Flags().GetString("tenant")
		processType, _ := cmd.Flags().GetString("process")

		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		if err := recovery.NewOps(store, logger).ResetStatus(ctx, tenantID, processType); err != nil {
			return err
		}
		fmt.Printf("reset %s status for %s\n", processType, tenantID)
		return nil
	},
}

var recoverPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove all of a tenant's data except the dictionary",
	RunE: func(cmd *cobra.Command, _ []string) error {
		tenantID, _ := cmd.Flags().GetString("tenant")
		yes, _ := cmd.Flags().GetBool("yes")

		if !yes {
			fmt.Printf("This permanently deletes all data for tenant %q. Type the tenant ID to confirm: ", tenantID)
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil || strings.TrimSpace(line) != tenantID {
				return fmt.Errorf("purge aborted")
			}
		}

		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		if err := recovery.NewOps(store, logger).PurgeTenant(ctx, tenantID); err != nil {
			return err
		}
		fmt.Printf("purged tenant %s\n", tenantID)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{recoverClearCmd, recoverResetCmd, recoverPurgeCmd} {
		c.Flags().String("tenant", "", "tenant to operate on")
		_ = c.MarkFlagRequired("tenant")
	}
	recoverResetCmd.Flags().String("process", "extraction", "process type to reset (upload or extraction)")
	recoverPurgeCmd.Flags().Bool("yes", false, "skip the confirmation prompt")
	recoverCmd.AddCommand(recoverClearCmd, recoverResetCmd, recoverPurgeCmd)
}
