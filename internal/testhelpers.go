package internal

import (
	"context"
	"slices"
	"sync"
	"time"
)

// TestEpoch is a fixed instant used by test clocks
var TestEpoch = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

// CreateTestMessage creates a message with a fixed timestamp
func CreateTestMessage(id string, role Role, content string) Message {
	return Message{
		ID:        id,
		Role:      role,
		Content:   content,
		Timestamp: TestEpoch,
	}
}

// CreateTestAgentMessage creates an assistant message attributed to agent
func CreateTestAgentMessage(id, agent, content string) Message {
	msg := CreateTestMessage(id, RoleAssistant, content)
	msg.Agent = agent
	return msg
}

// CreateTestState creates a state for the default registry holding messages
func CreateTestState(sessionID string, messages ...Message) State {
	s := NewState(sessionID, DefaultRegistry())
	s.Transcript = append(s.Transcript, messages...)
	return s
}

// FakeScheduler is a manually advanced Scheduler
type FakeScheduler struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	s       *FakeScheduler
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

// NewFakeScheduler creates a scheduler whose clock starts at start
func NewFakeScheduler(start time.Time) *FakeScheduler {
	return &FakeScheduler{now: start}
}

// Now returns the fake clock
func (s *FakeScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// AfterFunc registers f to run once the clock passes now+d
func (s *FakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{s: s, at: s.now.Add(d), f: f}
	s.timers = append(s.timers, t)
	return t
}

// Stop cancels the timer
func (t *fakeTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves the clock and runs due timers in deadline order
func (s *FakeScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	s.now = s.now.Add(d)
	now := s.now
	var due []*fakeTimer
	live := s.timers[:0]
	for _, t := range s.timers {
		switch {
		case t.stopped:
		case !t.at.After(now):
			t.fired = true
			due = append(due, t)
		default:
			live = append(live, t)
		}
	}
	s.timers = live
	s.mu.Unlock()

	slices.SortStableFunc(due, func(a, b *fakeTimer) int { return a.at.Compare(b.at) })
	for _, t := range due {
		t.f()
	}
}

// Pending returns the number of armed timers
func (s *FakeScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

// WaitForTimers polls until at least n timers are armed or timeout passes
func (s *FakeScheduler) WaitForTimers(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.Pending() >= n {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return s.Pending() >= n
}

// StubFallbackClient records requests and returns a canned result.
// A non-nil Gate holds each call until it is closed or ctx ends.
type StubFallbackClient struct {
	mu       sync.Mutex
	requests []FallbackRequest
	Response *FallbackResponse
	Err      error
	Gate     chan struct{}
}

// SendMessage implements FallbackClient
func (c *StubFallbackClient) SendMessage(ctx context.Context, req FallbackRequest) (*FallbackResponse, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	gate := c.Gate
	c.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.Err != nil {
		return nil, c.Err
	}
	return c.Response, nil
}

// Requests returns the recorded requests
func (c *StubFallbackClient) Requests() []FallbackRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.requests)
}
