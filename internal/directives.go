package internal

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

// Directive mining is a compatibility fallback: agents that predate the
// structured frames announce progress in chat text. It silently diverges
// from the structured events when agent labels or phrasing change, so the
// structured frames always remain the primary protocol.

const (
	// DefaultStartPhrase resets the session when it appears in a message
	DefaultStartPhrase = "Starting multi-agent analysis"
	// DefaultCompletePhrase completes the workflow when it appears in a message
	DefaultCompletePhrase = "Multi-agent analysis complete"

	directiveMatchTimeout = 50 * time.Millisecond
)

// DirectivePhrases configures the sentinel phrases
type DirectivePhrases struct {
	Start    string `yaml:"start"`
	Complete string `yaml:"complete"`
}

type markerPattern struct {
	agent string
	re    *regexp2.Regexp
}

// DirectiveExtractor mines directive markers out of message content.
// It holds only compiled patterns, so Extract is stateless and safe for
// concurrent use.
type DirectiveExtractor struct {
	markers  []markerPattern
	step     *regexp2.Regexp
	start    *regexp2.Regexp
	complete *regexp2.Regexp
	registry *Registry
}

// NewDirectiveExtractor compiles one marker pattern per registered agent
func NewDirectiveExtractor(registry *Registry, phrases DirectivePhrases) (*DirectiveExtractor, error) {
	if registry == nil {
		registry = DefaultRegistry()
	}
	if phrases.Start == "" {
		phrases.Start = DefaultStartPhrase
	}
	if phrases.Complete == "" {
		phrases.Complete = DefaultCompletePhrase
	}

	x := &DirectiveExtractor{registry: registry}
	for _, agent := range registry.Agents() {
		pattern := markerExpr(agent)
		re, err := compileDirective(pattern, regexp2.Multiline|regexp2.IgnoreCase)
		if err != nil {
			return nil, fmt.Errorf("marker for %s: %w", agent.ID, err)
		}
		x.markers = append(x.markers, markerPattern{agent: agent.ID, re: re})
	}

	var err error
	x.step, err = compileDirective(`Step[ \t]+(\d+)[ \t]*/[ \t]*(\d+)[ \t]*:[ \t]*([A-Za-z][\w-]*)`, regexp2.IgnoreCase)
	if err != nil {
		return nil, fmt.Errorf("step pattern: %w", err)
	}
	x.start, err = compileDirective(regexp2.Escape(phrases.Start), regexp2.IgnoreCase)
	if err != nil {
		return nil, fmt.Errorf("start phrase: %w", err)
	}
	x.complete, err = compileDirective(regexp2.Escape(phrases.Complete), regexp2.IgnoreCase)
	if err != nil {
		return nil, fmt.Errorf("complete phrase: %w", err)
	}
	return x, nil
}

// markerExpr builds `<glyph> <Label>: <free text>` anchored at a line start.
// Bullets, quotes and bold markers around the label are tolerated.
func markerExpr(agent AgentSpec) string {
	var b strings.Builder
	b.WriteString(`^[ \t>*-]*`)
	if agent.Glyph != "" {
		b.WriteString(regexp2.Escape(agent.Glyph))
		b.WriteString(`\uFE0F?[ \t]*`)
	}
	b.WriteString(`\**`)
	b.WriteString(regexp2.Escape(agent.Label))
	b.WriteString(`\**[ \t]*:\**[ \t]*(.+?)[ \t\r]*$`)
	return b.String()
}

func compileDirective(expr string, opts regexp2.RegexOptions) (*regexp2.Regexp, error) {
	re, err := regexp2.Compile(expr, opts)
	if err != nil {
		return nil, err
	}
	re.MatchTimeout = directiveMatchTimeout
	return re, nil
}

// Extract returns the events encoded in content, in a fixed order:
// reset, step start, agent completions in pipeline order, workflow completion.
// The same content always yields the same events, so replay is safe.
func (x *DirectiveExtractor) Extract(content string) []Event {
	if x == nil || strings.TrimSpace(content) == "" {
		return nil
	}
	var events []Event

	if firstMatch(x.start, content) != nil {
		events = append(events, SessionReset{})
	}

	if m := firstMatch(x.step, content); m != nil {
		step, _ := strconv.Atoi(m.GroupByNumber(1).String())
		total, _ := strconv.Atoi(m.GroupByNumber(2).String())
		agent := x.registry.Resolve(m.GroupByNumber(3).String())
		if agent != "" {
			events = append(events, AgentStarted{Agent: agent, Step: step, Total: total})
		}
	}

	// Each marker is evaluated independently so several agents may
	// complete within one message; the first match per marker wins.
	for _, marker := range x.markers {
		m := firstMatch(marker.re, content)
		if m == nil {
			continue
		}
		result := strings.TrimSpace(m.GroupByNumber(1).String())
		events = append(events, AgentCompleted{Agent: marker.agent, Result: result})
	}

	if firstMatch(x.complete, content) != nil {
		events = append(events, WorkflowCompleted{})
	}
	return events
}

func firstMatch(re *regexp2.Regexp, content string) *regexp2.Match {
	m, err := re.FindStringMatch(content)
	if err != nil {
		// Timeouts are treated as no match; the content is still stored.
		LogDebug("Directive match aborted: %v", err)
		return nil
	}
	return m
}
