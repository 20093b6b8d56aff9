package cmd

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/iksnae/pipeline-session/internal"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		Italic(true)

	countStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	dateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	agentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("135")).
			Bold(true)

	systemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	bannerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Italic(true)
)

var statusStyles = map[internal.AgentStatus]lipgloss.Style{
	internal.StatusIdle:       lipgloss.NewStyle().Foreground(lipgloss.Color("243")),
	internal.StatusProcessing: lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true),
	internal.StatusComplete:   lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
	internal.StatusError:      lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
	internal.StatusSkipped:    lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true),
}

// renderState writes the pipeline, banners and transcript
func renderState(w io.Writer, s internal.State, registry *internal.Registry) {
	renderPipeline(w, s, registry)
	renderBanners(w, s.Banners)
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("💬 Transcript (%d messages)", len(s.Transcript))))
	for _, msg := range s.Transcript {
		renderMessage(w, msg)
	}
}

// renderPipeline lists agents in pipeline order, then any unregistered agents
func renderPipeline(w io.Writer, s internal.State, registry *internal.Registry) {
	title := "🔧 Pipeline"
	if s.Progress.TotalSteps > 0 {
		title = fmt.Sprintf("🔧 Pipeline (step %d/%d)", s.Progress.CurrentStep, s.Progress.TotalSteps)
	}
	if s.Processing.Processing {
		title += " " + dateStyle.Render(s.Processing.Message)
	}
	_, _ = fmt.Fprintln(w, headerStyle.Render(title))

	seen := make(map[string]bool)
	for _, spec := range registry.Agents() {
		seen[spec.ID] = true
		renderAgent(w, spec.Glyph+" "+spec.Label, s.Agent(spec.ID), s.Brains[spec.ID])
	}
	for _, id := range sortedKeys(s.Pipeline) {
		if !seen[id] {
			renderAgent(w, "• "+id, s.Pipeline[id], s.Brains[id])
		}
	}
}

func renderAgent(w io.Writer, label string, st internal.AgentState, brain string) {
	line := fmt.Sprintf("  %-18s %s", label, statusStyles[st.Status].Render(string(st.Status)))
	if st.Status == internal.StatusProcessing {
		line += fmt.Sprintf(" %3d%%", st.Progress)
		if st.Substep != "" {
			line += " " + dateStyle.Render(st.Substep)
		}
	}
	if st.LastResult != "" {
		line += " " + dateStyle.Render(truncate(st.LastResult, 60))
	}
	if brain != "" {
		line += " " + idStyle.Render("["+brain+"]")
	}
	_, _ = fmt.Fprintln(w, line)
}

func renderBanners(w io.Writer, b internal.Banners) {
	if b.Thinking != nil {
		_, _ = fmt.Fprintln(w, bannerStyle.Render("🤔 "+b.Thinking.Text))
	}
	if b.ErrorRecovery != nil {
		_, _ = fmt.Fprintln(w, bannerStyle.Render(fmt.Sprintf("⚠️  [%s] %s", b.ErrorRecovery.Severity, b.ErrorRecovery.Message)))
	}
	if b.Decision != nil {
		text := "❓ " + b.Decision.Prompt
		if len(b.Decision.Options) > 0 {
			text += " (" + strings.Join(b.Decision.Options, " / ") + ")"
		}
		_, _ = fmt.Fprintln(w, bannerStyle.Render(text))
	}
}

// renderMessage writes one transcript entry
func renderMessage(w io.Writer, msg internal.Message) {
	var who string
	switch {
	case msg.Role == internal.RoleUser:
		who = userStyle.Render("you")
	case msg.Agent == internal.SystemAgent:
		who = systemStyle.Render(msg.Agent)
	case msg.Agent != "":
		who = agentStyle.Render(msg.Agent)
	default:
		who = agentStyle.Render("assistant")
	}
	ts := dateStyle.Render(msg.Timestamp.Local().Format(time.TimeOnly))
	_, _ = fmt.Fprintf(w, "%s %s: %s\n", ts, who, msg.Display())
	if msg.Offer != nil {
		_, _ = fmt.Fprintln(w, idStyle.Render("   ↳ interactive "+msg.Offer.Kind))
	}
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-3]) + "..."
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// eventPrinter streams state changes as lines. It is safe for concurrent use.
type eventPrinter struct {
	mu       sync.Mutex
	w        io.Writer
	registry *internal.Registry
	printed  map[string]bool
}

func newEventPrinter(w io.Writer, registry *internal.Registry, seed []internal.Message) *eventPrinter {
	p := &eventPrinter{w: w, registry: registry, printed: make(map[string]bool)}
	for _, msg := range seed {
		p.printed[msg.ID] = true
	}
	return p
}

// Listen implements internal.Listener
func (p *eventPrinter) Listen(s internal.State, e internal.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev := e.(type) {
	case internal.ChatMessageReceived:
		p.message(ev.Message)
	case internal.MessageAppended:
		p.message(ev.Message)
	case internal.MessageConfirmed:
		// The optimistic copy was already printed
		p.printed[ev.Message.ID] = true
	case internal.AgentStarted:
		p.agent(s, ev.Agent)
	case internal.AgentCompleted:
		p.agent(s, ev.Agent)
	case internal.AgentFailed:
		p.agent(s, ev.Agent)
	case internal.AgentSkipped:
		p.agent(s, ev.Agent)
	case internal.AgentSubstepProgress:
		p.agent(s, ev.Agent)
	case internal.WorkflowCompleted:
		_, _ = fmt.Fprintln(p.w, countStyle.Render("✅ Workflow complete"))
	case internal.ProcessingStatusChanged:
		if ev.Processing && ev.Message != "" {
			_, _ = fmt.Fprintln(p.w, dateStyle.Render("… "+ev.Message))
		}
	case internal.ManagerThinking, internal.ErrorRecoveryReported, internal.UserDecisionRequested:
		renderBanners(p.w, s.Banners)
	case internal.TranscriptCleared, internal.SessionReset:
		_, _ = fmt.Fprintln(p.w, headerStyle.Render("🔄 Session reset"))
	default:
		internal.LogDebug("Not printing %s", internal.EventName(e))
	}
}

func (p *eventPrinter) message(msg internal.Message) {
	if msg.ID != "" && p.printed[msg.ID] {
		return
	}
	p.printed[msg.ID] = true
	renderMessage(p.w, msg)
}

func (p *eventPrinter) agent(s internal.State, id string) {
	label := "• " + id
	if spec, ok := p.registry.Lookup(id); ok {
		label = spec.Glyph + " " + spec.Label
	}
	renderAgent(p.w, label, s.Agent(id), s.Brains[id])
}
