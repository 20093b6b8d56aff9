package internal

import "context"

// Transport delivers raw push-channel frames scoped to a session
type Transport interface {
	Subscribe(ctx context.Context, sessionID string) (Subscription, error)
}

// Subscription is a live feed of frames. Frames is closed once the
// subscription ends; Close detaches it and is safe to call more than once.
type Subscription interface {
	Frames() <-chan *RawFrame
	Close() error
}
