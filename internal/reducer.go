package internal

import (
	"slices"
	"time"
)

// Reducer applies events to a State. It is pure: the same state and event
// always produce the same result, and the input state is never modified.
type Reducer struct {
	registry   *Registry
	directives *DirectiveExtractor
}

// NewReducer creates a Reducer that mines chat messages with directives
func NewReducer(registry *Registry, directives *DirectiveExtractor) *Reducer {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Reducer{registry: registry, directives: directives}
}

// Apply returns the state after applying event
func (r *Reducer) Apply(s State, event Event) State {
	switch e := event.(type) {
	case ChatMessageReceived:
		return r.applyChatMessage(s, e.Message)
	case MessageConfirmed:
		return applyConfirmed(s, e)
	default:
		return r.applyOne(s, event)
	}
}

// ApplyAll folds events through Apply in order
func (r *Reducer) ApplyAll(s State, events ...Event) State {
	for _, e := range events {
		s = r.Apply(s, e)
	}
	return s
}

// ClearBanner empties a banner slot unconditionally
func ClearBanner(s State, kind BannerKind) State {
	out := s.clone()
	switch kind {
	case BannerThinking:
		out.Banners.Thinking = nil
	case BannerErrorRecovery:
		out.Banners.ErrorRecovery = nil
	case BannerDecision:
		out.Banners.Decision = nil
	}
	return out
}

// applyChatMessage appends a new message and folds its directives once.
// Duplicates are skipped entirely, which keeps redelivery idempotent.
func (r *Reducer) applyChatMessage(s State, msg Message) State {
	if s.HasMessage(msg.ID) {
		return s
	}
	var synthesized []Event
	if r.directives != nil {
		synthesized = r.directives.Extract(msg.Content)
	}

	// A reset clears what came before the message, not the message itself.
	var rest []Event
	for _, e := range synthesized {
		if _, ok := e.(SessionReset); ok {
			s = r.reset(s)
			continue
		}
		rest = append(rest, e)
	}

	out := s.clone()
	out.Transcript = append(out.Transcript, msg)
	for _, e := range rest {
		out = r.applyOne(out, e)
	}
	return out
}

func applyConfirmed(s State, e MessageConfirmed) State {
	local := s.FindMessage(e.LocalID)
	if s.HasMessage(e.Message.ID) {
		if local < 0 || e.LocalID == e.Message.ID {
			return s
		}
		out := s.clone()
		out.Transcript = slices.Delete(out.Transcript, local, local+1)
		return out
	}
	out := s.clone()
	if local < 0 {
		out.Transcript = append(out.Transcript, e.Message)
		return out
	}
	out.Transcript[local] = e.Message
	return out
}

// applyOne handles every event that is not a chat message. Synthesized
// directive events land here, so mining never recurses.
func (r *Reducer) applyOne(s State, event Event) State {
	switch e := event.(type) {
	case AgentStarted:
		if e.Agent == "" {
			return s
		}
		out := s.clone()
		st := out.Agent(e.Agent)
		st.Status = StatusProcessing
		st.Progress = 0
		st.Substep = ""
		if e.Step > 0 {
			st.StepNumber = e.Step
		}
		if e.Total > 0 {
			st.TotalSteps = e.Total
		}
		out.Pipeline[e.Agent] = st
		out.Progress.Active = true
		if e.Step > 0 {
			out.Progress.CurrentStep = e.Step
		}
		out.Progress.TotalSteps = max(e.Total, out.Progress.TotalSteps)
		return out

	case AgentCompleted:
		if e.Agent == "" || s.Agent(e.Agent).Status == StatusError {
			return s
		}
		out := s.clone()
		st := out.Agent(e.Agent)
		st.Status = StatusComplete
		st.Progress = 100
		st.Substep = ""
		st.LastResult = e.Result
		out.Pipeline[e.Agent] = st
		if !slices.Contains(out.Progress.CompletedAgents, e.Agent) {
			out.Progress.CompletedAgents = append(out.Progress.CompletedAgents, e.Agent)
		}
		return out

	case AgentFailed:
		if e.Agent == "" || s.Agent(e.Agent).Status == StatusComplete {
			return s
		}
		out := s.clone()
		st := out.Agent(e.Agent)
		st.Status = StatusError
		st.LastResult = e.Message
		out.Pipeline[e.Agent] = st
		return out

	case AgentSkipped:
		if e.Agent == "" || s.Agent(e.Agent).Status != StatusIdle {
			return s
		}
		out := s.clone()
		st := out.Agent(e.Agent)
		st.Status = StatusSkipped
		out.Pipeline[e.Agent] = st
		return out

	case AgentSubstepProgress:
		cur := s.Agent(e.Agent)
		if e.Agent == "" || cur.Status.terminal() {
			return s
		}
		out := s.clone()
		st := cur
		st.Status = StatusProcessing
		if e.Substep != "" {
			st.Substep = e.Substep
		}
		if e.Progress >= 0 {
			st.Progress = min(e.Progress, 100)
		}
		out.Pipeline[e.Agent] = st
		return out

	case WorkflowCompleted:
		out := s.clone()
		out.Progress.Active = false
		out.Progress.CurrentStep = out.Progress.TotalSteps
		return out

	case WorkflowStateChanged:
		out := s.clone()
		if e.Active != nil {
			out.Progress.Active = *e.Active
		}
		if e.CurrentStep > 0 {
			out.Progress.CurrentStep = e.CurrentStep
		}
		if e.TotalSteps > 0 {
			out.Progress.TotalSteps = e.TotalSteps
		}
		for _, agent := range e.CompletedAgents {
			if agent != "" && !slices.Contains(out.Progress.CompletedAgents, agent) {
				out.Progress.CompletedAgents = append(out.Progress.CompletedAgents, agent)
			}
		}
		return out

	case MessageAppended:
		if s.HasMessage(e.Message.ID) {
			return s
		}
		out := s.clone()
		out.Transcript = append(out.Transcript, e.Message)
		return out

	case ProcessingStatusChanged:
		out := s.clone()
		out.Processing = ProcessingStatus{Processing: e.Processing, Message: e.Message}
		return out

	case ManagerThinking:
		out := s.clone()
		out.Banners.Thinking = &ThinkingBanner{Text: e.Text, ExpiresAt: e.ExpiresAt}
		return out

	case ErrorRecoveryReported:
		out := s.clone()
		out.Banners.ErrorRecovery = &ErrorRecoveryBanner{Message: e.Message, Severity: e.Severity, ExpiresAt: e.ExpiresAt}
		return out

	case UserDecisionRequested:
		out := s.clone()
		out.Banners.Decision = &PendingDecision{Prompt: e.Prompt, Options: slices.Clone(e.Options), ExpiresAt: e.ExpiresAt}
		return out

	case BannerExpired:
		if !bannerExpiresAt(s.Banners, e.Kind, e.ExpiresAt) {
			return s
		}
		return ClearBanner(s, e.Kind)

	case BrainAllocationAssigned:
		out := s.clone()
		for agent, model := range e.Allocations {
			out.Brains[r.registry.Resolve(agent)] = model
		}
		return out

	case SessionReset, TranscriptCleared:
		return r.reset(s)

	case ChatMessageReceived:
		// Only reachable if a directive ever synthesized a chat message.
		LogWarn("Ignoring nested chat message %s", e.Message.ID)
		return s
	}
	LogDebug("Reducer ignored event %s", EventName(event))
	return s
}

// reset discards the transcript and returns every known agent to idle.
// Brain allocation and the processing indicator survive a reset.
func (r *Reducer) reset(s State) State {
	out := s.clone()
	out.Transcript = nil
	for id := range out.Pipeline {
		out.Pipeline[id] = AgentState{Status: StatusIdle}
	}
	for _, id := range r.registry.IDs() {
		out.Pipeline[id] = AgentState{Status: StatusIdle}
	}
	out.Progress = WorkflowProgress{}
	return out
}

// bannerExpiresAt reports whether the slot still holds the banner that
// expires at the given instant; a zero instant matches any banner
func bannerExpiresAt(b Banners, kind BannerKind, at time.Time) bool {
	switch kind {
	case BannerThinking:
		return b.Thinking != nil && (at.IsZero() || b.Thinking.ExpiresAt.Equal(at))
	case BannerErrorRecovery:
		return b.ErrorRecovery != nil && (at.IsZero() || b.ErrorRecovery.ExpiresAt.Equal(at))
	case BannerDecision:
		return b.Decision != nil && (at.IsZero() || b.Decision.ExpiresAt.Equal(at))
	}
	return false
}
