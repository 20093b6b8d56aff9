package internal

import (
	"fmt"
	"strings"
	"unicode"
)

// AgentSpec describes one agent of the pipeline
type AgentSpec struct {
	ID    string `yaml:"id"`
	Label string `yaml:"label"`
	Glyph string `yaml:"glyph"`
}

// DefaultAgents is the document-analysis pipeline, in execution order
var DefaultAgents = []AgentSpec{
	{ID: "file_reader", Label: "FileReader", Glyph: "📖"},
	{ID: "trade_mapper", Label: "TradeMapper", Glyph: "🗺"},
	{ID: "scope_analyst", Label: "ScopeAnalyst", Glyph: "🔍"},
	{ID: "takeoff", Label: "Takeoff", Glyph: "📐"},
	{ID: "estimator", Label: "Estimator", Glyph: "💰"},
	{ID: "report_writer", Label: "ReportWriter", Glyph: "📝"},
}

// Registry is the ordered set of known agents
type Registry struct {
	agents []AgentSpec
	byID   map[string]int
}

// NewRegistry builds a registry, rejecting duplicate or empty ids
func NewRegistry(agents []AgentSpec) (*Registry, error) {
	r := &Registry{byID: make(map[string]int)}
	for _, a := range agents {
		id := CanonicalAgentID(a.ID)
		if id == "" {
			return nil, fmt.Errorf("agent %q has no id", a.Label)
		}
		if _, dup := r.byID[id]; dup {
			return nil, fmt.Errorf("duplicate agent id %q", id)
		}
		a.ID = id
		if a.Label == "" {
			a.Label = a.ID
		}
		r.byID[id] = len(r.agents)
		r.agents = append(r.agents, a)
	}
	return r, nil
}

// DefaultRegistry returns the registry for DefaultAgents
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultAgents)
	if err != nil {
		panic(err)
	}
	return r
}

// Agents returns the agents in pipeline order
func (r *Registry) Agents() []AgentSpec {
	if r == nil {
		return nil
	}
	out := make([]AgentSpec, len(r.agents))
	copy(out, r.agents)
	return out
}

// IDs returns agent ids in pipeline order
func (r *Registry) IDs() []string {
	if r == nil {
		return nil
	}
	ids := make([]string, 0, len(r.agents))
	for _, a := range r.agents {
		ids = append(ids, a.ID)
	}
	return ids
}

// Lookup resolves any spelling of an agent name to its spec
func (r *Registry) Lookup(name string) (AgentSpec, bool) {
	if r == nil {
		return AgentSpec{}, false
	}
	idx, ok := r.byID[CanonicalAgentID(name)]
	if !ok {
		return AgentSpec{}, false
	}
	return r.agents[idx], true
}

// Resolve canonicalizes an agent name. Unknown agents keep their
// canonical spelling so that servers may report agents outside the registry.
func (r *Registry) Resolve(name string) string {
	if spec, ok := r.Lookup(name); ok {
		return spec.ID
	}
	return CanonicalAgentID(name)
}

// CanonicalAgentID converts FileReader, file-reader and "File Reader" to file_reader
func CanonicalAgentID(name string) string {
	name = strings.TrimSpace(name)
	var b strings.Builder
	prevLower := false
	for _, r := range name {
		switch {
		case r == '-' || r == ' ' || r == '_' || r == '.':
			if b.Len() > 0 && !strings.HasSuffix(b.String(), "_") {
				b.WriteByte('_')
			}
			prevLower = false
		case unicode.IsUpper(r):
			if prevLower {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			prevLower = false
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			prevLower = true
		}
	}
	return strings.Trim(b.String(), "_")
}
