package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Frame types accepted on the push channel
const (
	FrameAgentStart        = "agent_processing_start"
	FrameAgentComplete     = "agent_processing_complete"
	FrameAgentError        = "agent_processing_error"
	FrameWorkflowComplete  = "workflow_complete"
	FrameChatMessage       = "chat_message"
	FrameProcessingStatus  = "processing_status"
	FrameManagerThinking   = "manager_thinking"
	FrameAgentSubstep      = "agent_substep"
	FrameWorkflowState     = "workflow_state"
	FrameBrainAllocation   = "brain_allocation"
	FrameDecisionRequired  = "user_decision_required"
	FrameErrorRecovery     = "error_recovery"
	defaultRecoverySeverity = "warning"
)

var (
	// ErrUnknownFrameType is returned for frame types outside the closed set
	ErrUnknownFrameType = errors.New("unknown frame type")
	// ErrForeignSession is returned for frames addressed to another session
	ErrForeignSession = errors.New("frame belongs to another session")
)

// BannerTTLs configures how long each banner stays visible
type BannerTTLs struct {
	Thinking      time.Duration `yaml:"thinking"`
	ErrorRecovery time.Duration `yaml:"error_recovery"`
	Decision      time.Duration `yaml:"decision"`
}

// DefaultBannerTTLs are used for zero fields
var DefaultBannerTTLs = BannerTTLs{
	Thinking:      30 * time.Second,
	ErrorRecovery: 10 * time.Second,
	Decision:      2 * time.Minute,
}

func (t BannerTTLs) withDefaults() BannerTTLs {
	if t.Thinking <= 0 {
		t.Thinking = DefaultBannerTTLs.Thinking
	}
	if t.ErrorRecovery <= 0 {
		t.ErrorRecovery = DefaultBannerTTLs.ErrorRecovery
	}
	if t.Decision <= 0 {
		t.Decision = DefaultBannerTTLs.Decision
	}
	return t
}

// Normalizer converts raw push-channel frames into internal events
type Normalizer struct {
	registry *Registry
	offers   OfferParser
	ttls     BannerTTLs
	clock    func() time.Time
	newID    func() string
}

// NormalizerOption customizes a Normalizer
type NormalizerOption func(*Normalizer)

// WithOfferParser sets the interactive-block parser
func WithOfferParser(p OfferParser) NormalizerOption {
	return func(n *Normalizer) {
		n.offers = p
	}
}

// WithBannerTTLs overrides banner lifetimes
func WithBannerTTLs(ttls BannerTTLs) NormalizerOption {
	return func(n *Normalizer) {
		n.ttls = ttls.withDefaults()
	}
}

// WithNormalizerClock lets tests control timestamps
func WithNormalizerClock(clock func() time.Time) NormalizerOption {
	return func(n *Normalizer) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// NewNormalizer creates a new Normalizer
func NewNormalizer(registry *Registry, opts ...NormalizerOption) *Normalizer {
	if registry == nil {
		registry = DefaultRegistry()
	}
	n := &Normalizer{
		registry: registry,
		ttls:     DefaultBannerTTLs,
		clock:    time.Now,
		newID:    func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}
	return n
}

// NormalizeFrame maps a frame to its event. Frames for other sessions yield
// ErrForeignSession, unknown types ErrUnknownFrameType; malformed payloads
// of known types yield a *FrameError.
func (n *Normalizer) NormalizeFrame(frame *RawFrame, activeSession string) (Event, error) {
	if frame == nil {
		return nil, &FrameError{Type: "", Err: errors.New("frame is nil")}
	}
	if frame.SessionID != activeSession {
		return nil, ErrForeignSession
	}

	var p framePayload
	if len(frame.Data) > 0 {
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			if isKnownFrameType(frame.Type) {
				return nil, &FrameError{Type: frame.Type, Err: err}
			}
			return nil, fmt.Errorf("%w: %q", ErrUnknownFrameType, frame.Type)
		}
	}

	switch frame.Type {
	case FrameAgentStart:
		agent, err := n.requireAgent(frame.Type, p)
		if err != nil {
			return nil, err
		}
		return AgentStarted{
			Agent: agent,
			Step:  p.StepNumber.or(p.Step).value(0),
			Total: p.TotalSteps.or(p.Total).value(0),
		}, nil

	case FrameAgentComplete:
		agent, err := n.requireAgent(frame.Type, p)
		if err != nil {
			return nil, err
		}
		return AgentCompleted{Agent: agent, Result: firstNonEmpty(p.ResultSummary, p.Result, p.Summary)}, nil

	case FrameAgentError:
		agent, err := n.requireAgent(frame.Type, p)
		if err != nil {
			return nil, err
		}
		return AgentFailed{Agent: agent, Message: firstNonEmpty(p.Error, p.messageText())}, nil

	case FrameWorkflowComplete:
		return WorkflowCompleted{}, nil

	case FrameChatMessage:
		msg, err := n.decodeChatMessage(frame.Data)
		if err != nil {
			return nil, &FrameError{Type: frame.Type, Err: err}
		}
		return ChatMessageReceived{Message: msg}, nil

	case FrameProcessingStatus:
		processing := false
		switch {
		case p.Processing != nil:
			processing = *p.Processing
		case p.IsProcessing != nil:
			processing = *p.IsProcessing
		default:
			processing = strings.EqualFold(p.Status, "processing")
		}
		return ProcessingStatusChanged{Processing: processing, Message: p.messageText()}, nil

	case FrameManagerThinking:
		return ManagerThinking{
			Text:      firstNonEmpty(p.Thought, p.Text, p.messageText()),
			ExpiresAt: n.expiry(p, n.ttls.Thinking),
		}, nil

	case FrameAgentSubstep:
		agent, err := n.requireAgent(frame.Type, p)
		if err != nil {
			return nil, err
		}
		return AgentSubstepProgress{
			Agent:    agent,
			Substep:  firstNonEmpty(p.Substep, p.Description, p.messageText()),
			Progress: p.Progress.value(-1),
		}, nil

	case FrameWorkflowState:
		active := p.Active
		if active == nil {
			active = p.IsActive
		}
		completed := make([]string, 0, len(p.CompletedAgents))
		for _, a := range p.CompletedAgents {
			completed = append(completed, n.registry.Resolve(a))
		}
		return WorkflowStateChanged{
			Active:          active,
			CurrentStep:     p.CurrentStep.value(0),
			TotalSteps:      p.TotalSteps.or(p.Total).value(0),
			CompletedAgents: completed,
		}, nil

	case FrameBrainAllocation:
		alloc := make(map[string]string)
		for agent, model := range p.Allocations {
			alloc[n.registry.Resolve(agent)] = model
		}
		for agent, model := range p.Brains {
			alloc[n.registry.Resolve(agent)] = model
		}
		if agent := n.agentName(p); agent != "" && p.Model != "" {
			alloc[agent] = p.Model
		}
		if len(alloc) == 0 {
			return nil, &FrameError{Type: frame.Type, Err: errors.New("no allocations")}
		}
		return BrainAllocationAssigned{Allocations: alloc}, nil

	case FrameDecisionRequired:
		return UserDecisionRequested{
			Prompt:    firstNonEmpty(p.Prompt, p.Question, p.messageText()),
			Options:   p.Options,
			ExpiresAt: n.expiry(p, n.ttls.Decision),
		}, nil

	case FrameErrorRecovery:
		severity := p.Severity
		if severity == "" {
			severity = defaultRecoverySeverity
		}
		return ErrorRecoveryReported{
			Message:   firstNonEmpty(p.messageText(), p.Error),
			Severity:  severity,
			ExpiresAt: n.expiry(p, n.ttls.ErrorRecovery),
		}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownFrameType, frame.Type)
}

// NormalizeMessage fills a missing id, canonicalizes the agent name and
// runs the offer parser
func (n *Normalizer) NormalizeMessage(msg Message) Message {
	if msg.ID == "" {
		msg.ID = n.newID()
	}
	if msg.Agent != "" && msg.Role == RoleAssistant {
		if spec, ok := n.registry.Lookup(msg.Agent); ok {
			msg.Agent = spec.ID
		}
	}
	return attachOffer(n.offers, msg)
}

// PrepareMessage runs the offer parser on a locally built message
func (n *Normalizer) PrepareMessage(msg Message) Message {
	return attachOffer(n.offers, msg)
}

func (n *Normalizer) decodeChatMessage(data json.RawMessage) (Message, error) {
	var envelope struct {
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return Message{}, err
	}
	raw := data
	if trimmed := strings.TrimSpace(string(envelope.Message)); strings.HasPrefix(trimmed, "{") {
		raw = envelope.Message
	}
	var w wireMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return Message{}, err
	}
	if w.Content == "" {
		return Message{}, errors.New("chat message has no content")
	}
	return n.NormalizeMessage(w.toMessage(n.clock())), nil
}

func (n *Normalizer) agentName(p framePayload) string {
	name := firstNonEmpty(p.AgentName, p.Agent, p.AgentID)
	if name == "" {
		return ""
	}
	return n.registry.Resolve(name)
}

func (n *Normalizer) requireAgent(frameType string, p framePayload) (string, error) {
	agent := n.agentName(p)
	if agent == "" {
		return "", &FrameError{Type: frameType, Err: errors.New("missing agent name")}
	}
	return agent, nil
}

func (n *Normalizer) expiry(p framePayload, ttl time.Duration) time.Time {
	if secs := p.TTLSeconds.or(p.TimeoutSeconds).value(0); secs > 0 {
		ttl = time.Duration(secs) * time.Second
	}
	return n.clock().Add(ttl)
}

func isKnownFrameType(t string) bool {
	switch t {
	case FrameAgentStart, FrameAgentComplete, FrameAgentError, FrameWorkflowComplete,
		FrameChatMessage, FrameProcessingStatus, FrameManagerThinking, FrameAgentSubstep,
		FrameWorkflowState, FrameBrainAllocation, FrameDecisionRequired, FrameErrorRecovery:
		return true
	}
	return false
}

// framePayload is the union of data fields across frame types, aliases included
type framePayload struct {
	AgentName string `json:"agent_name"`
	Agent     string `json:"agent"`
	AgentID   string `json:"agent_id"`

	Step       *flexInt `json:"step"`
	StepNumber *flexInt `json:"step_number"`
	Total      *flexInt `json:"total"`
	TotalSteps *flexInt `json:"total_steps"`

	CurrentStep     *flexInt `json:"current_step"`
	Active          *bool    `json:"active"`
	IsActive        *bool    `json:"is_active"`
	CompletedAgents []string `json:"completed_agents"`

	ResultSummary string `json:"result_summary"`
	Result        string `json:"result"`
	Summary       string `json:"summary"`
	Error         string `json:"error"`

	// Message is a string for status frames and an object for chat frames
	Message json.RawMessage `json:"message"`

	Processing   *bool  `json:"processing"`
	IsProcessing *bool  `json:"is_processing"`
	Status       string `json:"status"`

	Thought     string   `json:"thought"`
	Text        string   `json:"text"`
	Substep     string   `json:"substep"`
	Description string   `json:"description"`
	Progress    *flexInt `json:"progress"`

	Allocations map[string]string `json:"allocations"`
	Brains      map[string]string `json:"brains"`
	Model       string            `json:"model"`

	Prompt         string   `json:"prompt"`
	Question       string   `json:"question"`
	Options        []string `json:"options"`
	Severity       string   `json:"severity"`
	TTLSeconds     *flexInt `json:"ttl_seconds"`
	TimeoutSeconds *flexInt `json:"timeout_seconds"`
}

// messageText returns the message field when it is a plain string
func (p framePayload) messageText() string {
	var s string
	if len(p.Message) > 0 && json.Unmarshal(p.Message, &s) == nil {
		return s
	}
	return ""
}

// flexInt accepts 3, 3.0 and "3"
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	if v, err := strconv.Atoi(s); err == nil {
		*f = flexInt(v)
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("not a number: %s", s)
	}
	*f = flexInt(int(v))
	return nil
}

func (f *flexInt) or(other *flexInt) *flexInt {
	if f != nil {
		return f
	}
	return other
}

func (f *flexInt) value(def int) int {
	if f == nil {
		return def
	}
	return int(*f)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
