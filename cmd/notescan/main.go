// Command notescan runs the clinical-note analytics engine: a server
// mode for the full pipeline and direct subcommands for operational
// tasks against the database.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/notescan/notescan/internal/config"
	"github.com/notescan/notescan/internal/logging"
	"github.com/notescan/notescan/internal/storage/sqlite"
)

// Version is stamped by the build.
var Version = "dev"

var (
	cfgPath string
	cfg     *config.Config
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "notescan",
	Short: "Clinical-note symptom extraction engine",
	Long: `notescan ingests clinical notes, matches them against a symptom
dictionary, and persists detected mentions per tenant.

Run 'notescan serve' for the HTTP pipeline, or use the subcommands to
operate directly on the database.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		logger = logging.New(cfg.Logging)
		return nil
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Println("notescan " + Version)
	},
}

var configInitCmd = &cobra.Command{
	Use:   "config-init [path]",
	Short: "Write a default config file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		path := "notescan.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if err := config.WriteDefault(path); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", path)
		return nil
	},
}

// openStore opens the configured database.
func openStore(ctx context.Context) (*sqlite.Store, error) {
	return sqlite.New(ctx, cfg.Storage.DBPath)
}

func main() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(dictionaryCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(recoverCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
