package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DefaultSnapshotKey is the storage key of the transcript snapshot
const DefaultSnapshotKey = "pipeline-session:transcript"

// Storage backends
const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
)

// SnapshotStore persists opaque snapshot values under string keys
type SnapshotStore interface {
	// Load returns the stored value; ok is false when the key is absent
	Load(key string) (value []byte, ok bool, err error)
	Save(key string, value []byte) error
	Keys() ([]string, error)
	Close() error
}

// OpenSnapshotStore opens the configured backend at path
func OpenSnapshotStore(backend, path string) (SnapshotStore, error) {
	switch strings.ToLower(backend) {
	case "", BackendSQLite:
		return OpenSQLiteSnapshotStore(path)
	case BackendFile:
		return NewFileSnapshotStore(path), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

// EncodeTranscript serializes a transcript as an ordered JSON array
func EncodeTranscript(messages []Message) ([]byte, error) {
	if messages == nil {
		messages = []Message{}
	}
	return json.Marshal(messages)
}

// DecodeTranscript parses a snapshot, rejecting entries that are not messages
func DecodeTranscript(data []byte) ([]Message, error) {
	var messages []Message
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, err
	}
	for i, msg := range messages {
		if msg.ID == "" {
			return nil, fmt.Errorf("message %d has no id", i)
		}
		if msg.Role != RoleUser && msg.Role != RoleAssistant {
			return nil, fmt.Errorf("message %d has invalid role %q", i, msg.Role)
		}
	}
	return NewDeduplicator().Deduplicate(messages), nil
}

// LoadTranscript reads the snapshot under key. A missing snapshot yields an
// empty transcript; an unreadable one is discarded with a warning.
func LoadTranscript(store SnapshotStore, key string) []Message {
	if store == nil {
		return nil
	}
	data, ok, err := store.Load(key)
	if err != nil {
		LogWarn("Discarding snapshot: %v", &SnapshotError{Key: key, Op: "load", Err: err})
		return nil
	}
	if !ok || len(data) == 0 {
		return nil
	}
	messages, err := DecodeTranscript(data)
	if err != nil {
		LogWarn("Discarding snapshot: %v", &SnapshotError{Key: key, Op: "decode", Err: err})
		return nil
	}
	return messages
}

// SaveTranscript writes the transcript snapshot under key
func SaveTranscript(store SnapshotStore, key string, messages []Message) error {
	if store == nil {
		return errors.New("no snapshot store")
	}
	data, err := EncodeTranscript(messages)
	if err != nil {
		return &SnapshotError{Key: key, Op: "encode", Err: err}
	}
	if err := store.Save(key, data); err != nil {
		return &SnapshotError{Key: key, Op: "save", Err: err}
	}
	return nil
}
