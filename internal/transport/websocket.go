package transport

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/iksnae/pipeline-session/internal"
)

const (
	defaultReadLimit  = 1 << 20
	defaultMinBackoff = 500 * time.Millisecond
	defaultMaxBackoff = 15 * time.Second
)

// WebSocketOption customizes a WebSocketTransport
type WebSocketOption func(*WebSocketTransport)

// WebSocketTransport subscribes to a session over a websocket. Each text
// message carries one JSON frame. Dropped connections are redialed with
// exponential backoff until the subscription is closed.
type WebSocketTransport struct {
	baseURL    string
	dialOpts   *websocket.DialOptions
	readLimit  int64
	minBackoff time.Duration
	maxBackoff time.Duration
	capacity   int
}

// NewWebSocketTransport creates a transport for wsURL
func NewWebSocketTransport(wsURL string, opts ...WebSocketOption) *WebSocketTransport {
	t := &WebSocketTransport{
		baseURL:    wsURL,
		readLimit:  defaultReadLimit,
		minBackoff: defaultMinBackoff,
		maxBackoff: defaultMaxBackoff,
		capacity:   defaultSubscriberCapacity,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// WithBackoff sets the redial backoff bounds
func WithBackoff(lo, hi time.Duration) WebSocketOption {
	return func(t *WebSocketTransport) {
		if lo > 0 {
			t.minBackoff = lo
		}
		if hi >= t.minBackoff {
			t.maxBackoff = hi
		}
	}
}

// WithReadLimit sets the maximum frame size in bytes
func WithReadLimit(limit int64) WebSocketOption {
	return func(t *WebSocketTransport) {
		if limit > 0 {
			t.readLimit = limit
		}
	}
}

// WithDialOptions passes options such as headers to the dialer
func WithDialOptions(opts *websocket.DialOptions) WebSocketOption {
	return func(t *WebSocketTransport) {
		t.dialOpts = opts
	}
}

// SessionURL returns the websocket URL for sessionID
func (t *WebSocketTransport) SessionURL(sessionID string) (string, error) {
	u, err := url.Parse(t.baseURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Subscribe dials the session. The first dial is synchronous so a bad URL
// or unreachable server is reported to the caller.
func (t *WebSocketTransport) Subscribe(ctx context.Context, sessionID string) (internal.Subscription, error) {
	target, err := t.SessionURL(sessionID)
	if err != nil {
		return nil, &internal.TransportError{URL: t.baseURL, Op: "parse", Err: err}
	}
	conn, err := t.dial(ctx, target)
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sub := &wsSubscription{
		frames: make(chan *internal.RawFrame, t.capacity),
		cancel: cancel,
	}
	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-subCtx.Done():
		}
	}()
	go t.run(subCtx, sub, conn, target, sessionID)
	return sub, nil
}

func (t *WebSocketTransport) dial(ctx context.Context, target string) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, target, t.dialOpts)
	if err != nil {
		return nil, &internal.TransportError{URL: target, Op: "dial", Err: err}
	}
	conn.SetReadLimit(t.readLimit)
	return conn, nil
}

// run reads until ctx is cancelled, redialing after connection loss
func (t *WebSocketTransport) run(ctx context.Context, sub *wsSubscription, conn *websocket.Conn, target, sessionID string) {
	defer close(sub.frames)
	backoff := t.minBackoff
	for {
		err := t.readLoop(ctx, sub, conn, sessionID)
		_ = conn.Close(websocket.StatusNormalClosure, "")
		if ctx.Err() != nil {
			return
		}
		if IsNormalClosure(err) {
			internal.LogInfo("Push channel closed by server, redialing")
		} else {
			internal.LogWarn("Push channel lost: %v", &internal.TransportError{URL: target, Op: "read", Err: err})
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			conn, err = t.dial(ctx, target)
			if err == nil {
				internal.LogInfo("Push channel reconnected")
				backoff = t.minBackoff
				break
			}
			internal.LogDebug("Redial failed: %v", err)
			backoff = min(backoff*2, t.maxBackoff)
		}
	}
}

func (t *WebSocketTransport) readLoop(ctx context.Context, sub *wsSubscription, conn *websocket.Conn, sessionID string) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			internal.LogDebug("Ignoring binary push message (%d bytes)", len(data))
			continue
		}
		frame, err := internal.ParseRawFrame(data)
		if err != nil {
			internal.LogWarn("Dropping push message: %v", &internal.TransportError{URL: t.baseURL, Op: "decode", Err: err})
			continue
		}
		// The connection is session scoped; unlabeled frames belong to it
		if frame.SessionID == "" {
			frame.SessionID = sessionID
		}
		select {
		case sub.frames <- frame:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

type wsSubscription struct {
	frames chan *internal.RawFrame
	cancel context.CancelFunc
	once   sync.Once
}

func (s *wsSubscription) Frames() <-chan *internal.RawFrame {
	return s.frames
}

func (s *wsSubscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// IsNormalClosure reports whether err is a clean websocket close
func IsNormalClosure(err error) bool {
	return websocket.CloseStatus(err) == websocket.StatusNormalClosure || errors.Is(err, context.Canceled)
}
