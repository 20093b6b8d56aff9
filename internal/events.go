package internal

import "time"

// Event is the closed set of internal events the reducer understands.
// The unexported marker keeps the union closed to this package.
type Event interface {
	eventName() string
}

// AgentStarted marks the start of an agent run
type AgentStarted struct {
	Agent string
	Step  int
	Total int
}

// AgentCompleted marks a successful agent run
type AgentCompleted struct {
	Agent  string
	Result string
}

// AgentFailed marks a failed agent run
type AgentFailed struct {
	Agent   string
	Message string
}

// AgentSkipped is the explicit external signal for idle -> skipped
type AgentSkipped struct {
	Agent string
}

// AgentSubstepProgress reports progress inside a running agent
type AgentSubstepProgress struct {
	Agent    string
	Substep  string
	Progress int
}

// WorkflowCompleted ends the pipeline run
type WorkflowCompleted struct{}

// WorkflowStateChanged is an authoritative workflow snapshot from the server
type WorkflowStateChanged struct {
	Active          *bool
	CurrentStep     int
	TotalSteps      int
	CompletedAgents []string
}

// ChatMessageReceived delivers a message from either channel; its content is
// mined for directives
type ChatMessageReceived struct {
	Message Message
}

// MessageAppended appends a locally produced message without directive mining
type MessageAppended struct {
	Message Message
}

// MessageConfirmed replaces an optimistic local message with the copy the
// push channel delivered
type MessageConfirmed struct {
	LocalID string
	Message Message
}

// ProcessingStatusChanged updates the coarse busy indicator
type ProcessingStatusChanged struct {
	Processing bool
	Message    string
}

// ManagerThinking sets the thinking banner
type ManagerThinking struct {
	Text      string
	ExpiresAt time.Time
}

// ErrorRecoveryReported sets the error recovery banner
type ErrorRecoveryReported struct {
	Message   string
	Severity  string
	ExpiresAt time.Time
}

// UserDecisionRequested sets the pending decision banner
type UserDecisionRequested struct {
	Prompt    string
	Options   []string
	ExpiresAt time.Time
}

// BrainAllocationAssigned records which model serves which agent
type BrainAllocationAssigned struct {
	Allocations map[string]string
}

// SessionReset discards the transcript and returns every agent to idle
type SessionReset struct{}

// TranscriptCleared is an explicit clear request; same effect as SessionReset
type TranscriptCleared struct{}

// BannerExpired clears a banner slot if it still holds the expired value
type BannerExpired struct {
	Kind      BannerKind
	ExpiresAt time.Time
}

func (AgentStarted) eventName() string            { return "agent_started" }
func (AgentCompleted) eventName() string          { return "agent_completed" }
func (AgentFailed) eventName() string             { return "agent_failed" }
func (AgentSkipped) eventName() string            { return "agent_skipped" }
func (AgentSubstepProgress) eventName() string    { return "agent_substep_progress" }
func (WorkflowCompleted) eventName() string       { return "workflow_completed" }
func (WorkflowStateChanged) eventName() string    { return "workflow_state_changed" }
func (ChatMessageReceived) eventName() string     { return "chat_message_received" }
func (MessageAppended) eventName() string         { return "message_appended" }
func (MessageConfirmed) eventName() string        { return "message_confirmed" }
func (ProcessingStatusChanged) eventName() string { return "processing_status_changed" }
func (ManagerThinking) eventName() string         { return "manager_thinking" }
func (ErrorRecoveryReported) eventName() string   { return "error_recovery_reported" }
func (UserDecisionRequested) eventName() string   { return "user_decision_requested" }
func (BrainAllocationAssigned) eventName() string { return "brain_allocation_assigned" }
func (SessionReset) eventName() string            { return "session_reset" }
func (TranscriptCleared) eventName() string       { return "transcript_cleared" }
func (BannerExpired) eventName() string           { return "banner_expired" }

// EventName returns a stable name for logging
func EventName(e Event) string {
	if e == nil {
		return "<nil>"
	}
	return e.eventName()
}
