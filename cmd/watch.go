package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/iksnae/pipeline-session/internal"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	watchDuration    time.Duration
	watchInteractive bool
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch [session-id]",
	Short: "Follow a live session over the push channel",
	Long: `Subscribe to a session and print messages, agent progress and banners
as they arrive. With --interactive every line read from stdin is sent as a
message.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}
		session := settings.Session
		if len(args) > 0 {
			session = args[0]
		}
		if session == "" {
			return fmt.Errorf("no session: pass a session id or set session in the config")
		}

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

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if watchDuration > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, watchDuration)
			defer cancel()
		}

		engine, err := openEngine(ctx, opts, session, settings.WSURL, true)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		printer := newEventPrinter(out, engine.Registry(), engine.State().Transcript)
		unsubscribe := engine.Subscribe(printer.Listen)
		defer unsubscribe()
		_, _ = fmt.Fprintln(out, headerStyle.Render("👀 Watching session "+session))

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			<-gctx.Done()
			return engine.Close()
		})
		if watchInteractive {
			g.Go(func() error {
				return sendLines(gctx, engine, cmd.InOrStdin())
			})
		}
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

// sendLines sends every non-blank input line until input ends or ctx is done
func sendLines(ctx context.Context, engine *internal.Engine, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			if _, err := engine.Send(ctx, line); err != nil {
				if errors.Is(err, internal.ErrEngineClosed) {
					return nil
				}
				internal.LogWarn("Send failed: %v", err)
			}
		}
	}
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().DurationVar(&watchDuration, "duration", 0, "Stop watching after this long (0 = until interrupted)")
	watchCmd.Flags().BoolVarP(&watchInteractive, "interactive", "i", false, "Send lines read from stdin as messages")
}
