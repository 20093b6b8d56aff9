package internal

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrEngineClosed is returned by operations on a closed engine
var ErrEngineClosed = errors.New("engine is closed")

// EngineOptions wires an Engine. Nil collaborators fall back to defaults
// where one exists; Transport and Fallback may be nil for offline use.
type EngineOptions struct {
	Registry    *Registry
	Transport   Transport
	Fallback    FallbackClient
	Snapshots   SnapshotStore
	SnapshotKey string
	Scheduler   Scheduler
	OfferParser OfferParser
	BoundedWait time.Duration
	BannerTTLs  BannerTTLs
	Directives  DirectivePhrases
}

// Engine owns one session at a time: its state store, the push
// subscription and pending submissions
type Engine struct {
	registry    *Registry
	normalizer  *Normalizer
	reducer     *Reducer
	store       *Store
	coordinator *Coordinator
	transport   Transport
	snapshots   SnapshotStore
	snapshotKey string

	mu      sync.Mutex
	session string
	sub     Subscription
	pumps   sync.WaitGroup
	closed  bool
}

// NewEngine builds an engine; call Open before use
func NewEngine(opts EngineOptions) (*Engine, error) {
	registry := opts.Registry
	if registry == nil {
		registry = DefaultRegistry()
	}
	scheduler := opts.Scheduler
	if scheduler == nil {
		scheduler = SystemScheduler{}
	}
	key := opts.SnapshotKey
	if key == "" {
		key = DefaultSnapshotKey
	}

	directives, err := NewDirectiveExtractor(registry, opts.Directives)
	if err != nil {
		return nil, err
	}
	normalizer := NewNormalizer(registry,
		WithOfferParser(opts.OfferParser),
		WithBannerTTLs(opts.BannerTTLs),
		WithNormalizerClock(scheduler.Now),
	)
	reducer := NewReducer(registry, directives)
	store := NewStore(reducer, NewState("", registry),
		WithScheduler(scheduler),
		WithSnapshotStore(opts.Snapshots, key),
	)

	fallback := opts.Fallback
	if fallback == nil {
		fallback = FallbackClientFunc(func(context.Context, FallbackRequest) (*FallbackResponse, error) {
			return nil, errors.New("no fallback client configured")
		})
	}
	wait := opts.BoundedWait
	if wait == 0 {
		wait = DefaultBoundedWait
	}
	coordinator := NewCoordinator(store, fallback, normalizer,
		WithBoundedWait(wait),
		WithCoordinatorScheduler(scheduler),
	)

	return &Engine{
		registry:    registry,
		normalizer:  normalizer,
		reducer:     reducer,
		store:       store,
		coordinator: coordinator,
		transport:   opts.Transport,
		snapshots:   opts.Snapshots,
		snapshotKey: key,
	}, nil
}

// Open starts a session. With an empty sessionID a local id is generated
// and the transcript is seeded from the persisted snapshot; an explicit
// session starts empty and waits for the server.
func (e *Engine) Open(ctx context.Context, sessionID string) error {
	return e.SwitchSession(ctx, sessionID)
}

// SwitchSession detaches the current session, cancels its pending
// submissions and attaches to sessionID
func (e *Engine) SwitchSession(ctx context.Context, sessionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}

	e.detachLocked()

	state := NewState(sessionID, e.registry)
	if sessionID == "" {
		state.SessionID = uuid.New().String()
		for _, msg := range LoadTranscript(e.snapshots, e.snapshotKey) {
			state.Transcript = append(state.Transcript, e.normalizer.PrepareMessage(msg))
		}
		LogDebug("Seeded %d messages from snapshot", len(state.Transcript))
	}
	e.session = state.SessionID
	e.coordinator.Bind(state.SessionID)
	e.store.Replace(state)

	if e.transport == nil {
		return nil
	}
	sub, err := e.transport.Subscribe(ctx, state.SessionID)
	if err != nil {
		return err
	}
	e.sub = sub
	e.pumps.Add(1)
	go e.pump(sub, state.SessionID)
	LogInfo("Attached to session %s", state.SessionID)
	return nil
}

// pump applies frames of one subscription. Every frame stays tied to the
// session it was subscribed for, so a switch cannot redirect it.
func (e *Engine) pump(sub Subscription, sessionID string) {
	defer e.pumps.Done()
	for frame := range sub.Frames() {
		e.handleFrame(frame, sessionID)
	}
}

// detachLocked closes the active subscription. Must hold e.mu.
func (e *Engine) detachLocked() {
	if e.sub != nil {
		if err := e.sub.Close(); err != nil {
			LogDebug("Closing subscription: %v", err)
		}
		e.sub = nil
	}
}

// SessionID returns the active session id
func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

// HandleFrame normalizes one push frame and applies it. Frames for other
// sessions, unknown types and malformed payloads are dropped.
func (e *Engine) HandleFrame(frame *RawFrame) {
	e.handleFrame(frame, e.SessionID())
}

func (e *Engine) handleFrame(frame *RawFrame, sessionID string) {
	event, err := e.normalizer.NormalizeFrame(frame, sessionID)
	switch {
	case errors.Is(err, ErrForeignSession):
		LogDebug("Dropping frame %s for session %q", frame.Type, frame.SessionID)
		return
	case errors.Is(err, ErrUnknownFrameType):
		LogInfo("Dropping frame: %v", err)
		return
	case err != nil:
		LogWarn("Dropping frame: %v", err)
		return
	}
	e.dispatch(sessionID, event)
}

// HandleEvent applies an already normalized event to the active session
func (e *Engine) HandleEvent(event Event) {
	e.dispatch(e.SessionID(), event)
}

// dispatch applies event only if sessionID is still the active session.
// The check runs under the coordinator or store lock, not before it.
func (e *Engine) dispatch(sessionID string, event Event) {
	if msg, ok := event.(ChatMessageReceived); ok {
		if !e.coordinator.DeliverFor(sessionID, msg.Message) {
			LogDebug("Dropping message %s from stale session %q", msg.Message.ID, sessionID)
		}
		return
	}
	if _, ok := e.store.ApplyFor(sessionID, event); !ok {
		LogDebug("Dropping %s from stale session %q", EventName(event), sessionID)
	}
}

// Send submits a user message over the fallback channel
func (e *Engine) Send(ctx context.Context, content string, attachments ...string) (*Submission, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, ErrEngineClosed
	}
	return e.coordinator.Send(ctx, content, attachments)
}

// Clear discards the transcript and resets the pipeline
func (e *Engine) Clear() {
	e.store.Apply(TranscriptCleared{})
}

// SkipAgent marks an idle agent as skipped
func (e *Engine) SkipAgent(agent string) {
	e.store.Apply(AgentSkipped{Agent: e.registry.Resolve(agent)})
}

// DismissBanner clears a banner slot before it expires
func (e *Engine) DismissBanner(kind BannerKind) {
	e.store.Apply(BannerExpired{Kind: kind})
}

// State returns the current session state
func (e *Engine) State() State {
	return e.store.State()
}

// Registry returns the pipeline registry
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Subscribe registers a state listener. Listeners run synchronously on the
// writer and must not call back into Send.
func (e *Engine) Subscribe(fn Listener) func() {
	return e.store.Subscribe(fn)
}

// Pending returns the number of unresolved submissions
func (e *Engine) Pending() int {
	return e.coordinator.Pending()
}

// Close detaches the session and cancels pending work. Idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.detachLocked()
	e.mu.Unlock()

	e.pumps.Wait()
	e.coordinator.Bind("")
	e.store.Close()
	return nil
}
