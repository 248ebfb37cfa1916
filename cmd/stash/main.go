package main

import (
	"fmt"
	"os"

	"github.com/cuemby/stash/pkg/config"
	"github.com/cuemby/stash/pkg/log"
	"github.com/cuemby/stash/pkg/metrics"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// cfg is loaded once per invocation by the root command
var cfg config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "stash",
	Short: "Stash - multi-tenant storage and cross-backend migration",
	Long: `Stash manages tenants whose files live on pluggable storage backends
(local disc, S3, Google Cloud Storage, Azure Blob) and migrates a tenant's
files from one backend to another without downtime for other tenants.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
			loaded.Log.Level = lvl
		}
		cfg = loaded

		log.Init(log.Config{
			Level:      log.ParseLevel(cfg.Log.Level),
			JSONOutput: cfg.Log.JSON,
			Output:     os.Stderr,
		})
		metrics.SetVersion(Version)
		return nil
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Stash version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("config", "", "Path to configuration file (default ./stash.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(tenantCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(applyCmd)
}
