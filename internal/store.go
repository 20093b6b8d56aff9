package internal

import (
	"slices"
	"sync"
	"time"
)

// Listener observes every state change along with the event that caused it
type Listener func(state State, event Event)

// Store is the single writer of session state. Every event, from any
// channel or timer, goes through Apply.
type Store struct {
	mu          sync.Mutex
	reducer     *Reducer
	state       State
	scheduler   Scheduler
	timers      map[BannerKind]Timer
	snapshots   SnapshotStore
	snapshotKey string

	listenerMu sync.RWMutex
	listeners  map[int]Listener
	nextID     int
}

// StoreOption customizes a Store
type StoreOption func(*Store)

// WithScheduler sets the scheduler used for banner expiry
func WithScheduler(s Scheduler) StoreOption {
	return func(st *Store) {
		if s != nil {
			st.scheduler = s
		}
	}
}

// WithSnapshotStore persists the transcript after every transcript change
func WithSnapshotStore(store SnapshotStore, key string) StoreOption {
	return func(st *Store) {
		st.snapshots = store
		if key != "" {
			st.snapshotKey = key
		}
	}
}

// NewStore creates a store holding initial
func NewStore(reducer *Reducer, initial State, opts ...StoreOption) *Store {
	st := &Store{
		reducer:     reducer,
		state:       initial,
		scheduler:   SystemScheduler{},
		timers:      make(map[BannerKind]Timer),
		snapshotKey: DefaultSnapshotKey,
		listeners:   make(map[int]Listener),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(st)
		}
	}
	return st
}

// State returns the current state
func (st *Store) State() State {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state
}

// Apply reduces event into the state and returns the result. Listeners are
// notified after the lock is released.
func (st *Store) Apply(event Event) State {
	st.mu.Lock()
	after := st.applyLocked(event)
	st.mu.Unlock()

	st.notify(after, event)
	return after
}

// ApplyFor applies event only while sessionID is the active session.
// Otherwise the state is left untouched and ok is false.
func (st *Store) ApplyFor(sessionID string, event Event) (State, bool) {
	st.mu.Lock()
	if st.state.SessionID != sessionID {
		current := st.state
		st.mu.Unlock()
		return current, false
	}
	after := st.applyLocked(event)
	st.mu.Unlock()

	st.notify(after, event)
	return after, true
}

func (st *Store) applyLocked(event Event) State {
	before := st.state
	after := st.reducer.Apply(before, event)
	st.state = after
	st.rescheduleBanners(before.Banners, after.Banners)
	if transcriptChanged(before.Transcript, after.Transcript) {
		st.persist(after.Transcript)
	}
	return after
}

// Replace swaps the whole state, e.g. when switching sessions. Pending
// banner timers are cancelled.
func (st *Store) Replace(state State) {
	st.mu.Lock()
	st.stopTimers()
	st.state = state
	st.rescheduleBanners(Banners{}, state.Banners)
	st.mu.Unlock()
}

// Subscribe registers a listener and returns its cancel function
func (st *Store) Subscribe(fn Listener) func() {
	st.listenerMu.Lock()
	id := st.nextID
	st.nextID++
	st.listeners[id] = fn
	st.listenerMu.Unlock()

	return func() {
		st.listenerMu.Lock()
		delete(st.listeners, id)
		st.listenerMu.Unlock()
	}
}

// Close cancels pending banner timers
func (st *Store) Close() {
	st.mu.Lock()
	st.stopTimers()
	st.mu.Unlock()
}

func (st *Store) notify(state State, event Event) {
	st.listenerMu.RLock()
	ids := make([]int, 0, len(st.listeners))
	for id := range st.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]Listener, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, st.listeners[id])
	}
	st.listenerMu.RUnlock()

	for _, fn := range fns {
		fn(state, event)
	}
}

// rescheduleBanners cancels the timer of every replaced slot and arms one
// for the new value. Must hold st.mu.
func (st *Store) rescheduleBanners(before, after Banners) {
	for _, kind := range []BannerKind{BannerThinking, BannerErrorRecovery, BannerDecision} {
		if bannerSlotChanged(before, after, kind) {
			st.rearm(kind, after)
		}
	}
}

func (st *Store) rearm(kind BannerKind, banners Banners) {
	if t, ok := st.timers[kind]; ok {
		t.Stop()
		delete(st.timers, kind)
	}
	at, ok := bannerExpiry(banners, kind)
	if !ok {
		return
	}
	delay := max(at.Sub(st.scheduler.Now()), 0)
	st.timers[kind] = st.scheduler.AfterFunc(delay, func() {
		st.Apply(BannerExpired{Kind: kind, ExpiresAt: at})
	})
}

func (st *Store) stopTimers() {
	for kind, t := range st.timers {
		t.Stop()
		delete(st.timers, kind)
	}
}

func (st *Store) persist(transcript []Message) {
	if st.snapshots == nil {
		return
	}
	if err := SaveTranscript(st.snapshots, st.snapshotKey, transcript); err != nil {
		LogWarn("Failed to save snapshot: %v", err)
	}
}

func transcriptChanged(before, after []Message) bool {
	return !slices.EqualFunc(before, after, func(a, b Message) bool {
		return a.ID == b.ID && a.Content == b.Content
	})
}

func bannerSlotChanged(before, after Banners, kind BannerKind) bool {
	switch kind {
	case BannerThinking:
		return before.Thinking != after.Thinking
	case BannerErrorRecovery:
		return before.ErrorRecovery != after.ErrorRecovery
	case BannerDecision:
		return before.Decision != after.Decision
	}
	return false
}

// bannerExpiry returns the expiry of a filled slot
func bannerExpiry(b Banners, kind BannerKind) (time.Time, bool) {
	switch kind {
	case BannerThinking:
		if b.Thinking != nil {
			return b.Thinking.ExpiresAt, true
		}
	case BannerErrorRecovery:
		if b.ErrorRecovery != nil {
			return b.ErrorRecovery.ExpiresAt, true
		}
	case BannerDecision:
		if b.Decision != nil {
			return b.Decision.ExpiresAt, true
		}
	}
	return time.Time{}, false
}
