package internal

import "testing"

func TestNewDeduplicator(t *testing.T) {
	if NewDeduplicator() == nil {
		t.Error("NewDeduplicator() returned nil")
	}
}

func TestDeduplicator_Deduplicate(t *testing.T) {
	tests := []struct {
		name     string
		messages []Message
		want     int
	}{
		{
			name:     "empty",
			messages: nil,
			want:     0,
		},
		{
			name: "no duplicates",
			messages: []Message{
				CreateTestMessage("1", RoleUser, "Hello"),
				CreateTestMessage("2", RoleUser, "Goodbye"),
			},
			want: 2,
		},
		{
			name: "repeated id",
			messages: []Message{
				CreateTestMessage("1", RoleUser, "Hello"),
				CreateTestMessage("1", RoleUser, "Hello again"),
			},
			want: 1,
		},
		{
			name: "same content different ids is kept",
			messages: []Message{
				CreateTestMessage("1", RoleUser, "yes"),
				CreateTestMessage("2", RoleUser, "yes"),
			},
			want: 2,
		},
	}

	d := NewDeduplicator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.Deduplicate(tt.messages); len(got) != tt.want {
				t.Errorf("Deduplicate() returned %d messages, want %d", len(got), tt.want)
			}
		})
	}
}

func TestMessageIndex_Contains(t *testing.T) {
	idx := NewDeduplicator().Index([]Message{
		CreateTestMessage("u1", RoleUser, "hello"),
		CreateTestMessage("a1", RoleAssistant, "hi there"),
	})

	tests := []struct {
		name string
		msg  Message
		want bool
	}{
		{"same id", CreateTestMessage("u1", RoleUser, "edited"), true},
		{"same role and content", CreateTestMessage("srv-9", RoleAssistant, "hi there"), true},
		{"same content other role", CreateTestMessage("srv-9", RoleUser, "hi there"), false},
		{"new message", CreateTestMessage("srv-10", RoleAssistant, "bye"), false},
		{"no id, same content", Message{Role: RoleUser, Content: "hello"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := idx.Contains(tt.msg); got != tt.want {
				t.Errorf("Contains() = %v, want %v", got, tt.want)
			}
		})
	}

	idx.Add(CreateTestMessage("a2", RoleAssistant, "bye"))
	if !idx.Contains(CreateTestMessage("x", RoleAssistant, "bye")) {
		t.Error("Add() should make the message discoverable")
	}
}
