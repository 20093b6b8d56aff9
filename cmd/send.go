package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/iksnae/pipeline-session/internal"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	sendSession string
	sendAttach  []string
	sendTimeout time.Duration
	sendNoPush  bool
	sendFollow  bool
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send <message...>",
	Short: "Send a message and wait for the reply",
	Long: `Send a message to a session. The message is shown immediately and the
reply is merged from whichever channel answers first: the push channel or
the request/response fallback.

With --follow the command keeps printing until the workflow completes.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}
		session := sendSession
		if session == "" {
			session = settings.Session
		}
		if session == "" {
			return fmt.Errorf("no session: pass --session or set session in the config")
		}
		content := strings.Join(args, " ")

		store, err := openSnapshots(settings)
		if err != nil {
			return err
		}
		defer store.Close()

		opts, err := engineOptions(settings)
		if err != nil {
			return err
		}
		opts.Snapshots = store
		opts.Fallback = internal.NewHTTPFallbackClient(settings.ServerURL, settings.RequestTimeout)

		ctx := cmd.Context()
		if sendTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, sendTimeout)
			defer cancel()
		}

		engine, err := openEngine(ctx, opts, session, settings.WSURL, !sendNoPush)
		if err != nil {
			return err
		}
		defer engine.Close()

		out := cmd.OutOrStdout()
		printer := newEventPrinter(out, engine.Registry(), engine.State().Transcript)
		unsubscribe := engine.Subscribe(printer.Listen)
		defer unsubscribe()

		completed := make(chan struct{})
		var once sync.Once
		stopFollow := engine.Subscribe(func(_ internal.State, e internal.Event) {
			if _, ok := e.(internal.WorkflowCompleted); ok {
				once.Do(func() { close(completed) })
			}
		})
		defer stopFollow()

		sub, err := engine.Send(ctx, content, sendAttach...)
		if err != nil {
			return err
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return internal.WaitForSubmission(gctx, sub)
		})
		if sendFollow {
			g.Go(func() error {
				select {
				case <-completed:
					return nil
				case <-gctx.Done():
					return gctx.Err()
				}
			})
		}

		err = g.Wait()
		var fe *internal.FallbackError
		switch {
		case err == nil:
			internal.PrintSuccess(fmt.Sprintf("Session %s: %d messages", session, len(engine.State().Transcript)))
			return nil
		case errors.As(err, &fe):
			// The failure is already in the transcript as a system message
			return fmt.Errorf("server rejected the message: %w", err)
		case errors.Is(err, context.DeadlineExceeded):
			internal.PrintWarning("Timed out waiting for the reply")
			return err
		default:
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVarP(&sendSession, "session", "s", "", "Session id (default: session from the config)")
	sendCmd.Flags().StringSliceVarP(&sendAttach, "attach", "a", nil, "Attachment reference (repeatable)")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 5*time.Minute, "Give up after this long (0 = no limit)")
	sendCmd.Flags().BoolVar(&sendNoPush, "no-push", false, "Use the request/response channel only")
	sendCmd.Flags().BoolVarP(&sendFollow, "follow", "f", false, "Keep printing until the workflow completes")
}
