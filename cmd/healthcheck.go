package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/iksnae/pipeline-session/internal"
	"github.com/iksnae/pipeline-session/internal/transport"
	"github.com/spf13/cobra"
)

const healthcheckTimeout = 5 * time.Second

var (
	healthcheckDetails bool
)

var (
	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39"))

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("62")).
			Bold(true).
			Underline(true)
)

// healthcheckCmd represents the healthcheck command
var healthcheckCmd = &cobra.Command{
	Use:   "healthcheck",
	Short: "Check configuration, storage and server connectivity",
	Long: `Check the health of pipeline-session by verifying:
  • Configuration loading
  • Snapshot storage access
  • Session API reachability (request/response fallback)
  • Push channel connectivity

Push channel problems are reported as warnings: the engine keeps working
over the fallback alone.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintln(out, sectionStyle.Render("🔍 Pipeline Session Health Check"))
		_, _ = fmt.Fprintln(out)

		// Step 1: configuration
		_, _ = fmt.Fprintln(out, infoStyle.Render("Step 1: Loading configuration..."))
		settings, err := loadSettings()
		if err != nil {
			_, _ = fmt.Fprintln(out, errorStyle.Render("❌ Failed to load configuration:"), err)
			return fmt.Errorf("health check failed: %w", err)
		}
		_, _ = fmt.Fprintln(out, successStyle.Render("✅ Configuration loaded"))
		if healthcheckDetails {
			_, _ = fmt.Fprintf(out, "   Server: %s\n", settings.ServerURL)
			_, _ = fmt.Fprintf(out, "   Push channel: %s\n", settings.WSURL)
			_, _ = fmt.Fprintf(out, "   Bounded wait: %s\n", settings.BoundedWait)
			_, _ = fmt.Fprintf(out, "   Pipeline: %d agent(s)\n", len(settings.Pipeline))
		}
		_, _ = fmt.Fprintln(out)

		// Step 2: snapshot storage
		_, _ = fmt.Fprintln(out, infoStyle.Render("Step 2: Checking snapshot storage..."))
		storageOK := true
		store, err := openSnapshots(settings)
		if err != nil {
			storageOK = false
			_, _ = fmt.Fprintln(out, errorStyle.Render("❌ Snapshot storage unavailable:"), err)
		} else {
			keys, err := store.Keys()
			_ = store.Close()
			if err != nil {
				storageOK = false
				_, _ = fmt.Fprintln(out, errorStyle.Render("❌ Failed to list snapshots:"), err)
			} else {
				_, _ = fmt.Fprintln(out, successStyle.Render(fmt.Sprintf("✅ Snapshot storage ready (%d snapshot(s))", len(keys))))
			}
		}
		if healthcheckDetails {
			_, _ = fmt.Fprintf(out, "   Backend: %s\n", settings.Storage.Backend)
			_, _ = fmt.Fprintf(out, "   Path: %s\n", settings.Storage.Path)
		}
		_, _ = fmt.Fprintln(out)

		ctx, cancel := context.WithTimeout(cmd.Context(), healthcheckTimeout)
		defer cancel()

		// Step 3: session API
		_, _ = fmt.Fprintln(out, infoStyle.Render("Step 3: Reaching the session API..."))
		status, err := probeServer(ctx, settings.ServerURL)
		serverOK := err == nil
		if serverOK {
			_, _ = fmt.Fprintln(out, successStyle.Render("✅ Session API reachable"))
			if healthcheckDetails {
				_, _ = fmt.Fprintf(out, "   Status: %d\n", status)
			}
		} else {
			_, _ = fmt.Fprintln(out, errorStyle.Render("❌ Session API unreachable:"), err)
		}
		_, _ = fmt.Fprintln(out)

		// Step 4: push channel
		_, _ = fmt.Fprintln(out, infoStyle.Render("Step 4: Connecting to the push channel..."))
		pushOK := probePush(ctx, settings.WSURL) == nil
		if pushOK {
			_, _ = fmt.Fprintln(out, successStyle.Render("✅ Push channel connected"))
		} else {
			_, _ = fmt.Fprintln(out, warningStyle.Render("⚠️  Push channel unavailable, replies will arrive over the fallback only"))
		}
		_, _ = fmt.Fprintln(out)

		// Summary
		_, _ = fmt.Fprintln(out, sectionStyle.Render("📊 Summary"))
		_, _ = fmt.Fprintln(out)
		switch {
		case storageOK && serverOK && pushOK:
			_, _ = fmt.Fprintln(out, successStyle.Render("✅ Health check passed!"))
			return nil
		case storageOK && serverOK:
			_, _ = fmt.Fprintln(out, warningStyle.Render("⚠️  Working without the push channel"))
			return nil
		default:
			_, _ = fmt.Fprintln(out, errorStyle.Render("❌ Health check failed"))
			if !storageOK {
				_, _ = fmt.Fprintln(out, "   • Snapshot storage is not usable")
			}
			if !serverOK {
				_, _ = fmt.Fprintln(out, "   • Session API cannot be reached")
			}
			return fmt.Errorf("health check failed")
		}
	},
}

// probeServer reports the HTTP status of the server root. Any response
// counts as reachable.
func probeServer(ctx context.Context, serverURL string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, serverURL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	return resp.StatusCode, nil
}

func probePush(ctx context.Context, wsURL string) error {
	sub, err := transport.NewWebSocketTransport(wsURL).Subscribe(ctx, "healthcheck")
	if err != nil {
		internal.LogDebug("Push probe failed: %v", err)
		return err
	}
	return sub.Close()
}

func init() {
	rootCmd.AddCommand(healthcheckCmd)
	healthcheckCmd.Flags().BoolVarP(&healthcheckDetails, "details", "d", false, "Show detailed diagnostic information")
}
