package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/iksnae/pipeline-session/internal"
	"github.com/iksnae/pipeline-session/internal/transport"
	"github.com/spf13/cobra"
)

const maxFrameLine = 4 << 20

var (
	replaySession string
	replayJSON    bool
	replayPersist bool
)

// replayCmd represents the replay command
var replayCmd = &cobra.Command{
	Use:   "replay <frames.jsonl>",
	Short: "Rebuild session state from recorded push frames",
	Long: `Replay a recorded push channel (one JSON frame per line, "-" for stdin)
through the engine and print the resulting pipeline and transcript.

Frames without a session_id are attributed to the replayed session. The
session defaults to the first session_id found in the file.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}
		opts, err := engineOptions(settings)
		if err != nil {
			return err
		}

		var in io.Reader = cmd.InOrStdin()
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open frames: %w", err)
			}
			defer f.Close()
			in = f
		}
		frames, err := readFrames(in)
		if err != nil {
			return err
		}

		session := replaySession
		for _, f := range frames {
			if session != "" {
				break
			}
			session = f.SessionID
		}
		if session == "" {
			session = "replay"
		}

		if replayPersist {
			store, err := openSnapshots(settings)
			if err != nil {
				return err
			}
			defer store.Close()
			opts.Snapshots = store
		}
		hub := transport.NewHub()
		opts.Transport = hub

		engine, err := internal.NewEngine(opts)
		if err != nil {
			return err
		}
		if err := engine.Open(cmd.Context(), session); err != nil {
			_ = engine.Close()
			return err
		}
		for _, f := range frames {
			if f.SessionID == "" {
				f.SessionID = session
			}
			hub.Publish(f)
		}
		// Close drains the frames already delivered to the subscription
		if err := engine.Close(); err != nil {
			return err
		}
		internal.LogInfo("Replayed %d frames into session %s", len(frames), session)

		out := cmd.OutOrStdout()
		state := engine.State()
		if replayJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(state)
		}
		renderState(out, state, engine.Registry())
		return nil
	},
}

// readFrames parses one frame per line, skipping blank and malformed lines
func readFrames(r io.Reader) ([]*internal.RawFrame, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameLine)

	var frames []*internal.RawFrame
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		frame, err := internal.ParseRawFrame([]byte(text))
		if err != nil {
			internal.LogWarn("Skipping line %d: %v", line, err)
			continue
		}
		frames = append(frames, frame)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read frames: %w", err)
	}
	return frames, nil
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().StringVar(&replaySession, "session", "", "Session to replay (default: first session_id in the file)")
	replayCmd.Flags().BoolVar(&replayJSON, "json", false, "Print the final state as JSON")
	replayCmd.Flags().BoolVar(&replayPersist, "persist", false, "Save the replayed transcript to the snapshot store")
}
