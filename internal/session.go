package internal

import (
	"maps"
	"slices"
	"time"
)

// AgentStatus is the lifecycle status of one pipeline agent
type AgentStatus string

const (
	StatusIdle       AgentStatus = "idle"
	StatusProcessing AgentStatus = "processing"
	StatusComplete   AgentStatus = "complete"
	StatusError      AgentStatus = "error"
	StatusSkipped    AgentStatus = "skipped"
)

// terminal reports whether the status ends a run
func (s AgentStatus) terminal() bool {
	return s == StatusComplete || s == StatusError
}

// AgentState is the tracked state of one agent
type AgentState struct {
	Status     AgentStatus `json:"status" yaml:"status"`
	Progress   int         `json:"progress" yaml:"progress"`
	Substep    string      `json:"substep,omitempty" yaml:"substep,omitempty"`
	StepNumber int         `json:"step_number,omitempty" yaml:"step_number,omitempty"`
	TotalSteps int         `json:"total_steps,omitempty" yaml:"total_steps,omitempty"`
	LastResult string      `json:"last_result,omitempty" yaml:"last_result,omitempty"`
}

// WorkflowProgress summarizes the pipeline run
type WorkflowProgress struct {
	Active          bool     `json:"active" yaml:"active"`
	CurrentStep     int      `json:"current_step" yaml:"current_step"`
	TotalSteps      int      `json:"total_steps" yaml:"total_steps"`
	CompletedAgents []string `json:"completed_agents" yaml:"completed_agents"`
}

// ProcessingStatus mirrors the server's coarse busy indicator
type ProcessingStatus struct {
	Processing bool   `json:"processing" yaml:"processing"`
	Message    string `json:"message,omitempty" yaml:"message,omitempty"`
}

// BannerKind names one of the ephemeral banner slots
type BannerKind string

const (
	BannerThinking      BannerKind = "thinking"
	BannerErrorRecovery BannerKind = "error_recovery"
	BannerDecision      BannerKind = "decision"
)

// ThinkingBanner shows what the manager agent is working on
type ThinkingBanner struct {
	Text      string    `json:"text"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ErrorRecoveryBanner reports a recoverable failure
type ErrorRecoveryBanner struct {
	Message   string    `json:"message"`
	Severity  string    `json:"severity"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PendingDecision asks the user to choose between options
type PendingDecision struct {
	Prompt    string    `json:"prompt"`
	Options   []string  `json:"options"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Banners holds the last-write-wins ephemeral slots
type Banners struct {
	Thinking      *ThinkingBanner      `json:"thinking,omitempty"`
	ErrorRecovery *ErrorRecoveryBanner `json:"error_recovery,omitempty"`
	Decision      *PendingDecision     `json:"decision,omitempty"`
}

// State is the full session state. Values are treated as immutable: Apply
// returns a new State and never mutates its input.
type State struct {
	SessionID  string                `json:"session_id"`
	Transcript []Message             `json:"transcript"`
	Pipeline   map[string]AgentState `json:"pipeline"`
	Progress   WorkflowProgress      `json:"progress"`
	Processing ProcessingStatus      `json:"processing"`
	Banners    Banners               `json:"banners"`
	Brains     map[string]string     `json:"brains,omitempty"`
}

// NewState creates an empty state with every registered agent idle
func NewState(sessionID string, registry *Registry) State {
	s := State{
		SessionID: sessionID,
		Pipeline:  make(map[string]AgentState),
		Brains:    make(map[string]string),
	}
	for _, id := range registry.IDs() {
		s.Pipeline[id] = AgentState{Status: StatusIdle}
	}
	return s
}

// clone returns a deep enough copy for copy-on-write updates
func (s State) clone() State {
	out := s
	out.Transcript = slices.Clone(s.Transcript)
	out.Pipeline = maps.Clone(s.Pipeline)
	if out.Pipeline == nil {
		out.Pipeline = make(map[string]AgentState)
	}
	out.Brains = maps.Clone(s.Brains)
	if out.Brains == nil {
		out.Brains = make(map[string]string)
	}
	out.Progress.CompletedAgents = slices.Clone(s.Progress.CompletedAgents)
	return out
}

// Agent returns the state of an agent, idle when unknown
func (s State) Agent(id string) AgentState {
	if st, ok := s.Pipeline[id]; ok {
		return st
	}
	return AgentState{Status: StatusIdle}
}

// FindMessage returns the index of the message with the given id, or -1
func (s State) FindMessage(id string) int {
	if id == "" {
		return -1
	}
	for i, msg := range s.Transcript {
		if msg.ID == id {
			return i
		}
	}
	return -1
}

// HasMessage reports whether the transcript holds the message by id
func (s State) HasMessage(id string) bool {
	return s.FindMessage(id) >= 0
}
