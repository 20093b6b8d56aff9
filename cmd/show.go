package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/iksnae/pipeline-session/internal"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	showFormat string
	showLimit  int
)

// showCmd represents the show command
var showCmd = &cobra.Command{
	Use:   "show [key]",
	Short: "Show the messages of a stored snapshot",
	Long: `Print the transcript stored under a snapshot key (default: the configured
snapshot key). --limit keeps only the most recent messages.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}
		key := settings.Storage.SnapshotKey
		if len(args) > 0 {
			key = args[0]
		}

		store, err := openSnapshots(settings)
		if err != nil {
			return err
		}
		defer store.Close()

		if _, ok, err := store.Load(key); err != nil {
			return fmt.Errorf("failed to load snapshot %s: %w", key, err)
		} else if !ok {
			return fmt.Errorf("snapshot not found: %s", key)
		}
		messages := internal.LoadTranscript(store, key)
		if showLimit > 0 && len(messages) > showLimit {
			messages = messages[len(messages)-showLimit:]
		}
		if messages == nil {
			messages = []internal.Message{}
		}

		out := cmd.OutOrStdout()
		switch showFormat {
		case "json":
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(messages)
		case "yaml":
			enc := yaml.NewEncoder(out)
			defer enc.Close()
			return enc.Encode(messages)
		case "text", "":
			_, _ = fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("💬 %s (%d messages)", key, len(messages))))
			for _, msg := range messages {
				renderMessage(out, msg)
			}
			return nil
		default:
			return fmt.Errorf("unknown format %q (want text, json or yaml)", showFormat)
		}
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
	showCmd.Flags().StringVarP(&showFormat, "format", "f", "text", "Output format: text, json or yaml")
	showCmd.Flags().IntVarP(&showLimit, "limit", "n", 0, "Show only the last N messages (0 = all)")
}
