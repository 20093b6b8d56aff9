package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	maxFallbackBody   = 4 << 20
	errorExcerptBytes = 256
)

// FallbackRequest is one direct send-message call
type FallbackRequest struct {
	SessionID   string   `json:"session_id"`
	Content     string   `json:"content"`
	Attachments []string `json:"attachments"`
}

// FallbackResponse holds the messages implied by the call. UserMessage is
// nil for legacy single-message responses. IDs may be empty.
type FallbackResponse struct {
	UserMessage   *Message
	AgentResponse *Message
}

// Messages returns the implied messages, user first
func (r *FallbackResponse) Messages() []Message {
	if r == nil {
		return nil
	}
	var out []Message
	if r.UserMessage != nil {
		out = append(out, *r.UserMessage)
	}
	if r.AgentResponse != nil {
		out = append(out, *r.AgentResponse)
	}
	return out
}

// FallbackClient performs the request/response submission
type FallbackClient interface {
	SendMessage(ctx context.Context, req FallbackRequest) (*FallbackResponse, error)
}

// FallbackClientFunc adapts a function into a FallbackClient
type FallbackClientFunc func(ctx context.Context, req FallbackRequest) (*FallbackResponse, error)

// SendMessage executes f(ctx, req)
func (f FallbackClientFunc) SendMessage(ctx context.Context, req FallbackRequest) (*FallbackResponse, error) {
	return f(ctx, req)
}

// HTTPFallbackClient posts messages to the session API
type HTTPFallbackClient struct {
	baseURL string
	client  *http.Client
	clock   func() time.Time
}

// NewHTTPFallbackClient creates a client for baseURL
func NewHTTPFallbackClient(baseURL string, timeout time.Duration) *HTTPFallbackClient {
	return &HTTPFallbackClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		clock:   time.Now,
	}
}

// SendMessage posts to /api/sessions/{session}/messages
func (c *HTTPFallbackClient) SendMessage(ctx context.Context, req FallbackRequest) (*FallbackResponse, error) {
	if req.Attachments == nil {
		req.Attachments = []string{}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &FallbackError{SessionID: req.SessionID, Err: err}
	}

	endpoint := fmt.Sprintf("%s/api/sessions/%s/messages", c.baseURL, url.PathEscape(req.SessionID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &FallbackError{SessionID: req.SessionID, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	LogDebug("POST %s", endpoint)
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &FallbackError{SessionID: req.SessionID, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFallbackBody))
	if err != nil {
		return nil, &FallbackError{SessionID: req.SessionID, Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FallbackError{
			SessionID: req.SessionID,
			Status:    resp.StatusCode,
			Err:       errors.New(excerpt(data)),
		}
	}

	out, err := DecodeFallbackResponse(data, c.clock())
	if err != nil {
		return nil, &FallbackError{SessionID: req.SessionID, Status: resp.StatusCode, Err: err}
	}
	return out, nil
}

// DecodeFallbackResponse accepts the paired {user_message, agent_response}
// shape and the legacy single-message shape
func DecodeFallbackResponse(data []byte, now time.Time) (*FallbackResponse, error) {
	var paired struct {
		UserMessage   *wireMessage `json:"user_message"`
		AgentResponse *wireMessage `json:"agent_response"`
	}
	if err := json.Unmarshal(data, &paired); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	out := &FallbackResponse{}
	if paired.UserMessage != nil || paired.AgentResponse != nil {
		if paired.UserMessage != nil {
			m := paired.UserMessage.toMessage(now)
			m.Role = RoleUser
			out.UserMessage = &m
		}
		if paired.AgentResponse != nil && paired.AgentResponse.Content != "" {
			m := paired.AgentResponse.toMessage(now)
			out.AgentResponse = &m
		}
		return out, nil
	}

	var legacy wireMessage
	if err := json.Unmarshal(data, &legacy); err != nil {
		return nil, fmt.Errorf("failed to parse legacy response: %w", err)
	}
	if legacy.Content == "" {
		return nil, errors.New("response carries no message")
	}
	m := legacy.toMessage(now)
	out.AgentResponse = &m
	return out, nil
}

func excerpt(data []byte) string {
	s := strings.TrimSpace(string(data))
	if s == "" {
		return "empty response body"
	}
	if len(s) > errorExcerptBytes {
		s = s[:errorExcerptBytes] + "..."
	}
	return s
}
