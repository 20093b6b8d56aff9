package internal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Role identifies who authored a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// SystemAgent is the agent name used for engine-synthesized messages
const SystemAgent = "System"

// Message represents a single transcript entry
type Message struct {
	ID             string           `json:"id" yaml:"id"`
	Role           Role             `json:"role" yaml:"role"`
	Content        string           `json:"content" yaml:"content"`
	Agent          string           `json:"agent,omitempty" yaml:"agent,omitempty"`
	Timestamp      time.Time        `json:"timestamp" yaml:"timestamp"`
	TokenCost      *float64         `json:"token_cost,omitempty" yaml:"token_cost,omitempty"`
	ProcessingTime *float64         `json:"processing_time,omitempty" yaml:"processing_time,omitempty"`
	Metadata       *MessageMetadata `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	// Offer is the parsed interactive block, if the content carried one
	Offer *Offer `json:"offer,omitempty" yaml:"offer,omitempty"`
	// DisplayContent is Content with the raw offer block stripped
	DisplayContent string `json:"display_content,omitempty" yaml:"display_content,omitempty"`
}

// MessageMetadata holds model attribution for assistant messages
type MessageMetadata struct {
	Model      string   `json:"model,omitempty" yaml:"model,omitempty"`
	Confidence *float64 `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	Sources    []string `json:"sources,omitempty" yaml:"sources,omitempty"`
}

// Display returns the text a front end should show for the message
func (m Message) Display() string {
	if m.Offer != nil {
		return m.DisplayContent
	}
	return m.Content
}

// SameAs reports whether two messages are the same logical message:
// identical id, or identical role and content when ids differ across channels
func (m Message) SameAs(other Message) bool {
	if m.ID != "" && m.ID == other.ID {
		return true
	}
	return m.Role == other.Role && m.Content == other.Content
}

// RawFrame represents one frame delivered over the push channel
type RawFrame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	SessionID string          `json:"session_id"`
	EventID   string          `json:"event_id,omitempty"`
}

// UnmarshalJSON decodes a frame. Frames without a data object are treated as
// flattened: the whole object is used as data.
func (f *RawFrame) UnmarshalJSON(b []byte) error {
	type plain RawFrame
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	trimmed := bytes.TrimSpace(p.Data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		p.Data = append(json.RawMessage(nil), b...)
	}
	*f = RawFrame(p)
	return nil
}

// ParseRawFrame parses a JSON value into a RawFrame
func ParseRawFrame(value []byte) (*RawFrame, error) {
	var frame RawFrame
	if err := json.Unmarshal(value, &frame); err != nil {
		return nil, fmt.Errorf("failed to parse frame JSON: %w", err)
	}
	frame.Type = strings.TrimSpace(frame.Type)
	frame.SessionID = strings.TrimSpace(frame.SessionID)
	if frame.Type == "" {
		return nil, fmt.Errorf("frame has no type")
	}
	return &frame, nil
}

// wireMessage is the Message shape used by the server, on both channels
type wireMessage struct {
	ID             string           `json:"id"`
	Role           string           `json:"role"`
	Content        string           `json:"content"`
	Agent          string           `json:"agent,omitempty"`
	AgentType      string           `json:"agent_type,omitempty"`
	Timestamp      string           `json:"timestamp,omitempty"`
	TokenCost      *float64         `json:"token_cost,omitempty"`
	ProcessingTime *float64         `json:"processing_time,omitempty"`
	Metadata       *MessageMetadata `json:"metadata,omitempty"`
}

// toMessage converts a wire message, defaulting missing fields
func (w wireMessage) toMessage(now time.Time) Message {
	role := Role(strings.ToLower(strings.TrimSpace(w.Role)))
	if role != RoleUser {
		role = RoleAssistant
	}
	agent := w.Agent
	if agent == "" {
		agent = w.AgentType
	}
	ts := now
	if w.Timestamp != "" {
		if parsed, ok := parseWireTime(w.Timestamp); ok {
			ts = parsed
		}
	}
	return Message{
		ID:             w.ID,
		Role:           role,
		Content:        w.Content,
		Agent:          agent,
		Timestamp:      ts,
		TokenCost:      w.TokenCost,
		ProcessingTime: w.ProcessingTime,
		Metadata:       w.Metadata,
	}
}

// parseWireTime accepts RFC 3339 with or without a zone suffix
func parseWireTime(s string) (time.Time, bool) {
	layouts := []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
