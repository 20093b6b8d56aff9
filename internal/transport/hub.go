package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/iksnae/pipeline-session/internal"
)

const (
	defaultSubscriberCapacity = 256
	defaultBacklogLimit       = 512
	defaultDedupeWindow       = 1024
)

// HubOption customizes Hub construction
type HubOption func(*Hub)

// Hub is an in-process push channel. Frames are routed by session id,
// buffered while a session has no subscriber, and deduplicated by event id.
type Hub struct {
	mu           sync.RWMutex
	subscribers  map[string]map[*subscriber]struct{}
	backlog      map[string][]*internal.RawFrame
	recentIDs    map[string]struct{}
	recentOrder  []string
	channelSize  int
	backlogLimit int
	dedupeWindow int
}

// NewHub constructs a hub with default limits
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		subscribers:  map[string]map[*subscriber]struct{}{},
		backlog:      map[string][]*internal.RawFrame{},
		recentIDs:    map[string]struct{}{},
		recentOrder:  make([]string, 0, defaultDedupeWindow),
		channelSize:  defaultSubscriberCapacity,
		backlogLimit: defaultBacklogLimit,
		dedupeWindow: defaultDedupeWindow,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// HubWithSubscriberCapacity overrides the buffered channel size per subscriber
func HubWithSubscriberCapacity(capacity int) HubOption {
	return func(h *Hub) {
		if capacity > 0 {
			h.channelSize = capacity
		}
	}
}

// HubWithBacklogLimit overrides the pre-subscription backlog per session
func HubWithBacklogLimit(limit int) HubOption {
	return func(h *Hub) {
		if limit > 0 {
			h.backlogLimit = limit
		}
	}
}

// HubWithDedupeWindow controls how many recent event ids are retained
func HubWithDedupeWindow(size int) HubOption {
	return func(h *Hub) {
		if size > 0 {
			h.dedupeWindow = size
		}
	}
}

// Subscribe registers for frames of sessionID. Backlogged frames are
// delivered first. The subscription ends when ctx is done or on Close.
func (h *Hub) Subscribe(ctx context.Context, sessionID string) (internal.Subscription, error) {
	key := normalizeSession(sessionID)

	h.mu.Lock()
	backlog := h.backlog[key]
	delete(h.backlog, key)
	// Room for the whole backlog, so flushing it under the lock never blocks
	sub := newSubscriber(max(h.channelSize, len(backlog)))
	sub.cancel = func() { h.removeSubscriber(key, sub) }
	for _, frame := range backlog {
		sub.frames <- frame
	}
	if h.subscribers[key] == nil {
		h.subscribers[key] = map[*subscriber]struct{}{}
	}
	h.subscribers[key][sub] = struct{}{}
	h.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()
	return sub, nil
}

// Publish routes a frame to the subscribers of its session
func (h *Hub) Publish(frame *internal.RawFrame) {
	if frame == nil {
		return
	}
	if frame.EventID != "" && h.isDuplicate(frame.EventID) {
		internal.LogDebug("Hub dropped duplicate event %s", frame.EventID)
		return
	}
	key := normalizeSession(frame.SessionID)

	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subscribers[key]))
	for sub := range h.subscribers[key] {
		subs = append(subs, sub)
	}
	if len(subs) == 0 {
		h.bufferLocked(key, frame)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.deliver(frame)
	}
}

// PublishJSON parses and publishes one encoded frame
func (h *Hub) PublishJSON(data []byte) error {
	frame, err := internal.ParseRawFrame(data)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	h.Publish(frame)
	return nil
}

// Subscribers returns the number of live subscribers of sessionID
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[normalizeSession(sessionID)])
}

func (h *Hub) removeSubscriber(key string, sub *subscriber) {
	h.mu.Lock()
	if subs := h.subscribers[key]; subs != nil {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.subscribers, key)
		}
	}
	h.mu.Unlock()
}

// bufferLocked must hold h.mu
func (h *Hub) bufferLocked(key string, frame *internal.RawFrame) {
	queue := h.backlog[key]
	if len(queue) >= h.backlogLimit {
		queue = queue[1:]
		internal.LogWarn("Hub backlog full for session %q (limit %d), dropping oldest frame", key, h.backlogLimit)
	}
	h.backlog[key] = append(queue, frame)
}

func (h *Hub) isDuplicate(eventID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.recentIDs[eventID]; ok {
		return true
	}
	h.recentIDs[eventID] = struct{}{}
	h.recentOrder = append(h.recentOrder, eventID)
	if len(h.recentOrder) > h.dedupeWindow {
		oldest := h.recentOrder[0]
		h.recentOrder = h.recentOrder[1:]
		delete(h.recentIDs, oldest)
	}
	return false
}

func normalizeSession(sessionID string) string {
	return strings.TrimSpace(sessionID)
}

// subscriber delivers frames in order. Senders block while the buffer is
// full; Close unblocks them before the channel is closed.
type subscriber struct {
	frames chan *internal.RawFrame
	done   chan struct{}
	sendMu sync.RWMutex
	once   sync.Once
	cancel func()
}

func newSubscriber(capacity int) *subscriber {
	if capacity <= 0 {
		capacity = defaultSubscriberCapacity
	}
	return &subscriber{
		frames: make(chan *internal.RawFrame, capacity),
		done:   make(chan struct{}),
	}
}

func (s *subscriber) Frames() <-chan *internal.RawFrame {
	return s.frames
}

func (s *subscriber) deliver(frame *internal.RawFrame) {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.frames <- frame:
	case <-s.done:
	}
}

func (s *subscriber) Close() error {
	s.once.Do(func() {
		close(s.done)
		if s.cancel != nil {
			s.cancel()
		}
		s.sendMu.Lock()
		close(s.frames)
		s.sendMu.Unlock()
	})
	return nil
}
