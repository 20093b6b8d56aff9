package cmd

import (
	"fmt"
	"os"

	"github.com/iksnae/pipeline-session/internal"
	"github.com/spf13/cobra"
)

var (
	verbose     bool
	configPath  string
	storagePath string
	version     string = "dev"
	commit      string = "unknown"
	date        string = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pipeline-session",
	Short: "Follow and drive multi-agent pipeline sessions",
	Long: `A CLI for the session reconciliation engine.

It merges the push channel and the request/response fallback of a
multi-agent document pipeline into one deduplicated transcript and a
consistent pipeline status.

Quick Start:
  pipeline-session watch <session-id>         # Follow a live session
  pipeline-session send "Estimate the plans"  # Send a message and wait for the reply
  pipeline-session replay frames.jsonl        # Rebuild state from recorded frames
  pipeline-session extract < transcript.txt   # Show directives mined from text
  pipeline-session list                       # List stored transcript snapshots`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		internal.SetVerbose(verbose)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.pipeline-session/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&storagePath, "storage", "", "Snapshot location (database file or snapshot directory)")

	// Set version template to ensure --version flag works
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}

// loadSettings reads the config and applies the persistent flags
func loadSettings() (internal.Settings, error) {
	settings, err := internal.LoadSettings(configPath)
	if err != nil {
		return settings, err
	}
	if storagePath != "" {
		settings.Storage.Path = storagePath
	}
	return settings, nil
}

func openSnapshots(settings internal.Settings) (internal.SnapshotStore, error) {
	store, err := internal.OpenSnapshotStore(settings.Storage.Backend, settings.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot storage: %w", err)
	}
	return store, nil
}

// engineOptions maps settings onto engine options
func engineOptions(settings internal.Settings) (internal.EngineOptions, error) {
	registry, err := settings.Registry()
	if err != nil {
		return internal.EngineOptions{}, err
	}
	return internal.EngineOptions{
		Registry:    registry,
		SnapshotKey: settings.Storage.SnapshotKey,
		BoundedWait: settings.BoundedWait,
		BannerTTLs:  settings.Banners,
		Directives:  settings.Directives,
	}, nil
}
