package internal

import (
	"crypto/sha256"
	"encoding/hex"
)

// Deduplicator decides whether messages are already present in a transcript
type Deduplicator struct{}

// NewDeduplicator creates a new Deduplicator
func NewDeduplicator() *Deduplicator {
	return &Deduplicator{}
}

// Deduplicate drops repeated ids, keeping the first occurrence. Messages
// without an id are kept as they are.
func (d *Deduplicator) Deduplicate(messages []Message) []Message {
	seen := make(map[string]bool)
	unique := make([]Message, 0, len(messages))
	for _, msg := range messages {
		if msg.ID != "" {
			if seen[msg.ID] {
				continue
			}
			seen[msg.ID] = true
		}
		unique = append(unique, msg)
	}
	return unique
}

// MessageIndex answers "is this message already here" for one transcript
type MessageIndex struct {
	ids    map[string]bool
	hashes map[string]bool
}

// Index builds a lookup over transcript ids and role+content hashes
func (d *Deduplicator) Index(transcript []Message) *MessageIndex {
	idx := &MessageIndex{
		ids:    make(map[string]bool, len(transcript)),
		hashes: make(map[string]bool, len(transcript)),
	}
	for _, msg := range transcript {
		idx.Add(msg)
	}
	return idx
}

// Add records a message in the index
func (idx *MessageIndex) Add(msg Message) {
	if msg.ID != "" {
		idx.ids[msg.ID] = true
	}
	idx.hashes[hashMessageContent(msg)] = true
}

// Contains matches by id first, then by role and content
func (idx *MessageIndex) Contains(msg Message) bool {
	if msg.ID != "" && idx.ids[msg.ID] {
		return true
	}
	return idx.hashes[hashMessageContent(msg)]
}

// hashMessageContent creates a content-based hash for a message
func hashMessageContent(msg Message) string {
	h := sha256.New()
	h.Write([]byte(msg.Role))
	h.Write([]byte{0})
	h.Write([]byte(msg.Content))
	return hex.EncodeToString(h.Sum(nil))
}
