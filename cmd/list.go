package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/iksnae/pipeline-session/internal"
	"github.com/spf13/cobra"
)

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored transcript snapshots",
	Long:  `List every transcript snapshot in the configured storage with its size and age.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}
		store, err := openSnapshots(settings)
		if err != nil {
			return err
		}
		defer store.Close()

		keys, err := store.Keys()
		if err != nil {
			return fmt.Errorf("failed to list snapshots: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(keys) == 0 {
			_, _ = fmt.Fprintln(out, headerStyle.Render("📋 No snapshots found"))
			return nil
		}
		_, _ = fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("📋 Found %d snapshot(s)", len(keys))))
		_, _ = fmt.Fprintln(out)

		w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
		_, _ = fmt.Fprintln(w, titleStyle.Render("Key")+"\t"+titleStyle.Render("Messages")+"\t"+titleStyle.Render("Last message")+"\t")
		_, _ = fmt.Fprintln(w, strings.Repeat("─", 72))
		for _, key := range keys {
			messages := internal.LoadTranscript(store, key)
			last := dateStyle.Render("—")
			if n := len(messages); n > 0 && !messages[n-1].Timestamp.IsZero() {
				last = dateStyle.Render(humanize.Time(messages[n-1].Timestamp))
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t\n", idStyle.Render(key), countStyle.Render(strconv.Itoa(len(messages))), last)
		}
		_ = w.Flush()

		_, _ = fmt.Fprintln(out)
		_, _ = fmt.Fprintln(out, idStyle.Render("💡 Tip: pipeline-session show "+keys[0]))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
