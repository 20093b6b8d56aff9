package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/iksnae/pipeline-session/internal"
	"github.com/spf13/cobra"
)

var extractApply bool

// extractCmd represents the extract command
var extractCmd = &cobra.Command{
	Use:   "extract [file]",
	Short: "Show the directives mined from message text",
	Long: `Run the directive extractor over a message (a file, or stdin when no
file is given) and list the events it produces. With --apply the events are
folded into a fresh pipeline and the result is printed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}
		registry, err := settings.Registry()
		if err != nil {
			return err
		}
		extractor, err := internal.NewDirectiveExtractor(registry, settings.Directives)
		if err != nil {
			return err
		}

		var in io.Reader = cmd.InOrStdin()
		if len(args) > 0 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open message: %w", err)
			}
			defer f.Close()
			in = f
		}
		data, err := io.ReadAll(in)
		if err != nil {
			return fmt.Errorf("failed to read message: %w", err)
		}

		out := cmd.OutOrStdout()
		events := extractor.Extract(string(data))
		if len(events) == 0 {
			_, _ = fmt.Fprintln(out, "No directives found")
			return nil
		}
		for _, e := range events {
			_, _ = fmt.Fprintf(out, "%s %s\n", countStyle.Render(internal.EventName(e)), describeEvent(e))
		}

		if extractApply {
			_, _ = fmt.Fprintln(out)
			state := internal.NewReducer(registry, nil).ApplyAll(internal.NewState("extract", registry), events...)
			renderPipeline(out, state, registry)
		}
		return nil
	},
}

// describeEvent summarizes the fields directives can set
func describeEvent(e internal.Event) string {
	switch ev := e.(type) {
	case internal.AgentStarted:
		return fmt.Sprintf("agent=%s step=%d/%d", ev.Agent, ev.Step, ev.Total)
	case internal.AgentCompleted:
		return fmt.Sprintf("agent=%s result=%q", ev.Agent, truncate(ev.Result, 60))
	}
	return ""
}

func init() {
	rootCmd.AddCommand(extractCmd)
	extractCmd.Flags().BoolVar(&extractApply, "apply", false, "Fold the events into a fresh pipeline and print it")
}
