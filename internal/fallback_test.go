package internal

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPFallbackClient_SendMessage(t *testing.T) {
	var gotPath, gotMethod, gotType string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotMethod = r.Method
		gotType = r.Header.Get("Content-Type")
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"user_message": {"id":"srv-u1","role":"user","content":"Estimate","timestamp":"2025-03-14T09:00:00Z"},
			"agent_response": {"id":"srv-a1","role":"assistant","agent_type":"estimator","content":"Total: $4,200","token_cost":0.02}
		}`)
	}))
	defer srv.Close()

	client := NewHTTPFallbackClient(srv.URL+"/", time.Second)
	resp, err := client.SendMessage(context.Background(), FallbackRequest{SessionID: "sess 1", Content: "Estimate"})
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	if gotMethod != http.MethodPost || gotPath != "/api/sessions/sess%201/messages" {
		t.Errorf("request = %s %s", gotMethod, gotPath)
	}
	if gotType != "application/json" {
		t.Errorf("Content-Type = %q", gotType)
	}
	if gotBody["content"] != "Estimate" || gotBody["session_id"] != "sess 1" {
		t.Errorf("body = %v", gotBody)
	}
	if atts, ok := gotBody["attachments"].([]any); !ok || len(atts) != 0 {
		t.Errorf("attachments = %v, want []", gotBody["attachments"])
	}

	msgs := resp.Messages()
	if len(msgs) != 2 || msgs[0].ID != "srv-u1" || msgs[1].Agent != "estimator" {
		t.Fatalf("Messages() = %+v", msgs)
	}
	if msgs[1].TokenCost == nil || *msgs[1].TokenCost != 0.02 {
		t.Errorf("TokenCost = %v", msgs[1].TokenCost)
	}
}

func TestHTTPFallbackClient_Errors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
		wantText   string
	}{
		{"server error", http.StatusBadGateway, "upstream down", 502, "upstream down"},
		{"empty error body", http.StatusNotFound, "", 404, "empty response body"},
		{"long error body", http.StatusInternalServerError, strings.Repeat("x", 1000), 500, "..."},
		{"unparseable success", http.StatusOK, "<html>", 200, "failed to parse"},
		{"success without message", http.StatusOK, `{"status":"ok"}`, 200, "no message"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := NewHTTPFallbackClient(srv.URL, time.Second).SendMessage(context.Background(), FallbackRequest{SessionID: "s1", Content: "x"})
			var fe *FallbackError
			if !errors.As(err, &fe) {
				t.Fatalf("SendMessage() error = %v, want *FallbackError", err)
			}
			if fe.Status != tt.wantStatus || fe.SessionID != "s1" {
				t.Errorf("FallbackError = %+v", fe)
			}
			if !strings.Contains(err.Error(), tt.wantText) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.wantText)
			}
		})
	}
}

func TestHTTPFallbackClient_ContextCancelled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewHTTPFallbackClient(srv.URL, time.Second).SendMessage(ctx, FallbackRequest{SessionID: "s1", Content: "x"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("SendMessage() error = %v, want context.Canceled", err)
	}
}

func TestDecodeFallbackResponse(t *testing.T) {
	tests := []struct {
		name      string
		data      string
		wantUser  bool
		wantAgent bool
		wantErr   bool
	}{
		{
			name:      "paired",
			data:      `{"user_message":{"id":"u","content":"hi"},"agent_response":{"id":"a","role":"assistant","content":"hello"}}`,
			wantUser:  true,
			wantAgent: true,
		},
		{
			name:     "paired with empty agent response",
			data:     `{"user_message":{"id":"u","content":"hi"},"agent_response":{"content":""}}`,
			wantUser: true,
		},
		{
			name:      "legacy single message",
			data:      `{"id":"a","role":"assistant","agent":"estimator","content":"hello"}`,
			wantAgent: true,
		},
		{name: "legacy without content", data: `{"id":"a"}`, wantErr: true},
		{name: "array", data: `[]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := DecodeFallbackResponse([]byte(tt.data), TestEpoch)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeFallbackResponse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if (resp.UserMessage != nil) != tt.wantUser || (resp.AgentResponse != nil) != tt.wantAgent {
				t.Errorf("response = %+v", resp)
			}
			if resp.UserMessage != nil && resp.UserMessage.Role != RoleUser {
				t.Errorf("user message role = %q", resp.UserMessage.Role)
			}
			if resp.AgentResponse != nil && !resp.AgentResponse.Timestamp.Equal(TestEpoch) {
				t.Errorf("missing timestamp should default to now, got %v", resp.AgentResponse.Timestamp)
			}
		})
	}
}
