package internal

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultBoundedWait is how long a fallback result waits for the push
// channel to deliver the same messages before it is merged
const DefaultBoundedWait = 1500 * time.Millisecond

var (
	// ErrEmptyMessage is returned by Send for blank content without attachments
	ErrEmptyMessage = errors.New("message is empty")
	// ErrSubmissionCancelled is reported when a session switch abandons a submission
	ErrSubmissionCancelled = errors.New("submission cancelled")
)

// Submission tracks one Send across both channels
type Submission struct {
	// LocalID is the id of the optimistic user message
	LocalID string

	done chan struct{}
	once sync.Once
	mu   sync.Mutex
	err  error
}

func newSubmission(localID string) *Submission {
	return &Submission{LocalID: localID, done: make(chan struct{})}
}

// Done is closed once the fallback result was merged, failed or cancelled
func (s *Submission) Done() <-chan struct{} {
	return s.done
}

// Err returns the fallback failure, ErrSubmissionCancelled, or nil
func (s *Submission) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Submission) finish(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

type inflight struct {
	cancel context.CancelFunc
	timer  Timer
}

type optimisticEntry struct {
	localID string
	content string
}

// Coordinator drives submissions across the fallback call and the push
// channel and merges their results into the store without duplicates
type Coordinator struct {
	store      *Store
	client     FallbackClient
	normalizer *Normalizer
	scheduler  Scheduler
	wait       time.Duration
	dedup      *Deduplicator
	newID      func() string

	mu         sync.Mutex
	session    string
	generation uint64
	pending    map[*Submission]*inflight
	optimistic []optimisticEntry
}

// CoordinatorOption customizes a Coordinator
type CoordinatorOption func(*Coordinator)

// WithBoundedWait sets the merge delay; zero merges immediately
func WithBoundedWait(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d >= 0 {
			c.wait = d
		}
	}
}

// WithCoordinatorScheduler sets the scheduler driving the bounded wait
func WithCoordinatorScheduler(s Scheduler) CoordinatorOption {
	return func(c *Coordinator) {
		if s != nil {
			c.scheduler = s
		}
	}
}

// NewCoordinator creates a Coordinator bound to no session
func NewCoordinator(store *Store, client FallbackClient, normalizer *Normalizer, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store:      store,
		client:     client,
		normalizer: normalizer,
		scheduler:  SystemScheduler{},
		wait:       DefaultBoundedWait,
		dedup:      NewDeduplicator(),
		newID:      func() string { return uuid.New().String() },
		pending:    make(map[*Submission]*inflight),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Bind starts a new session generation. Pending submissions of the previous
// session are cancelled and their late results discarded.
func (c *Coordinator) Bind(sessionID string) {
	c.mu.Lock()
	c.generation++
	c.session = sessionID
	abandoned := c.pending
	c.pending = make(map[*Submission]*inflight)
	c.optimistic = nil
	c.mu.Unlock()

	for sub, p := range abandoned {
		p.cancel()
		if p.timer != nil {
			p.timer.Stop()
		}
		sub.finish(ErrSubmissionCancelled)
	}
	if len(abandoned) > 0 {
		LogDebug("Cancelled %d pending submissions", len(abandoned))
	}
}

// Send appends the optimistic user message and starts the fallback call
func (c *Coordinator) Send(ctx context.Context, content string, attachments []string) (*Submission, error) {
	if strings.TrimSpace(content) == "" && len(attachments) == 0 {
		return nil, ErrEmptyMessage
	}

	c.mu.Lock()
	gen := c.generation
	req := FallbackRequest{SessionID: c.session, Content: content, Attachments: slices.Clone(attachments)}
	local := Message{
		ID:        c.newID(),
		Role:      RoleUser,
		Content:   content,
		Timestamp: c.scheduler.Now(),
	}
	sub := newSubmission(local.ID)
	runCtx, cancel := context.WithCancel(ctx)
	c.pending[sub] = &inflight{cancel: cancel}
	c.optimistic = append(c.optimistic, optimisticEntry{localID: local.ID, content: content})
	// Applied under c.mu so a concurrent Bind cannot leak it into the next session
	c.store.Apply(MessageAppended{Message: c.normalizer.PrepareMessage(local)})
	c.mu.Unlock()

	go c.run(runCtx, gen, sub, req)
	return sub, nil
}

// Deliver applies a chat message from the push channel. A user message that
// echoes a pending optimistic message confirms it in place.
func (c *Coordinator) Deliver(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deliverLocked(msg)
}

// DeliverFor is Deliver for a message received on sessionID's subscription.
// It reports false and drops the message once another session is bound.
func (c *Coordinator) DeliverFor(sessionID string, msg Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sessionID != c.session {
		return false
	}
	c.deliverLocked(msg)
	return true
}

func (c *Coordinator) deliverLocked(msg Message) {
	if msg.Role == RoleUser {
		if localID, ok := c.claimLocked(msg.Content); ok {
			c.store.Apply(MessageConfirmed{LocalID: localID, Message: msg})
			return
		}
	}
	c.store.Apply(ChatMessageReceived{Message: msg})
}

// Pending returns the number of unresolved submissions
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Coordinator) run(ctx context.Context, gen uint64, sub *Submission, req FallbackRequest) {
	resp, err := c.client.SendMessage(ctx, req)
	if err == nil && resp == nil {
		err = &FallbackError{SessionID: req.SessionID, Err: errors.New("empty response")}
	}

	c.mu.Lock()
	p, ok := c.pending[sub]
	if gen != c.generation || !ok {
		c.mu.Unlock()
		return
	}

	if err != nil {
		LogWarn("Fallback send failed: %v", err)
		delete(c.pending, sub)
		p.cancel()
		c.store.Apply(MessageAppended{Message: c.systemError(err)})
		c.mu.Unlock()
		sub.finish(err)
		return
	}

	if c.wait <= 0 {
		c.mergeLocked(sub, resp)
		c.mu.Unlock()
		sub.finish(nil)
		return
	}
	p.timer = c.scheduler.AfterFunc(c.wait, func() {
		c.merge(gen, sub, resp)
	})
	c.mu.Unlock()
}

func (c *Coordinator) merge(gen uint64, sub *Submission, resp *FallbackResponse) {
	c.mu.Lock()
	if _, ok := c.pending[sub]; !ok || gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.mergeLocked(sub, resp)
	c.mu.Unlock()
	sub.finish(nil)
}

// mergeLocked appends whichever implied messages the push channel did not
// already deliver. Must hold c.mu.
func (c *Coordinator) mergeLocked(sub *Submission, resp *FallbackResponse) {
	if p, ok := c.pending[sub]; ok {
		p.cancel()
		delete(c.pending, sub)
	}
	idx := c.dedup.Index(c.store.State().Transcript)

	if u := resp.UserMessage; u != nil {
		pending := c.optimisticIndex(sub.LocalID) >= 0
		switch {
		case pending && u.ID != "":
			// The server copy carries the canonical id
			c.removeOptimistic(sub.LocalID)
			c.store.Apply(MessageConfirmed{LocalID: sub.LocalID, Message: c.normalizer.NormalizeMessage(*u)})
		case idx.Contains(*u):
			LogDebug("Fallback user message already present")
		default:
			c.store.Apply(MessageAppended{Message: c.normalizer.NormalizeMessage(*u)})
		}
	}

	if a := resp.AgentResponse; a != nil {
		if idx.Contains(*a) {
			LogDebug("Fallback agent response already delivered by push channel")
			return
		}
		c.store.Apply(ChatMessageReceived{Message: c.normalizer.NormalizeMessage(*a)})
	}
}

func (c *Coordinator) claimLocked(content string) (string, bool) {
	for _, e := range c.optimistic {
		if e.content == content {
			c.removeOptimistic(e.localID)
			return e.localID, true
		}
	}
	return "", false
}

func (c *Coordinator) optimisticIndex(localID string) int {
	return slices.IndexFunc(c.optimistic, func(e optimisticEntry) bool { return e.localID == localID })
}

func (c *Coordinator) removeOptimistic(localID string) {
	if i := c.optimisticIndex(localID); i >= 0 {
		c.optimistic = slices.Delete(c.optimistic, i, i+1)
	}
}

func (c *Coordinator) systemError(err error) Message {
	return Message{
		ID:        c.newID(),
		Role:      RoleAssistant,
		Agent:     SystemAgent,
		Content:   fmt.Sprintf("Sorry, your message could not be delivered: %v", err),
		Timestamp: c.scheduler.Now(),
	}
}
