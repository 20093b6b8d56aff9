package transport

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/iksnae/pipeline-session/internal"
)

func frame(session, eventID, typ string) *internal.RawFrame {
	return &internal.RawFrame{Type: typ, SessionID: session, EventID: eventID}
}

func receive(t *testing.T, sub internal.Subscription) *internal.RawFrame {
	t.Helper()
	select {
	case f, ok := <-sub.Frames():
		if !ok {
			t.Fatal("subscription closed")
		}
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
	return nil
}

func expectNone(t *testing.T, sub internal.Subscription) {
	t.Helper()
	select {
	case f, ok := <-sub.Frames():
		if ok {
			t.Fatalf("unexpected frame %+v", f)
		}
	case <-time.After(20 * time.Millisecond):
	}
}

func TestHub_RoutesBySession(t *testing.T) {
	h := NewHub()
	a, _ := h.Subscribe(context.Background(), "A")
	b, _ := h.Subscribe(context.Background(), " B ")
	defer a.Close()
	defer b.Close()

	h.Publish(frame("A", "", "workflow_complete"))
	h.Publish(frame("B", "", "processing_status"))

	if got := receive(t, a); got.Type != "workflow_complete" {
		t.Errorf("A got %q", got.Type)
	}
	if got := receive(t, b); got.Type != "processing_status" {
		t.Errorf("B got %q", got.Type)
	}
	expectNone(t, a)
}

func TestHub_BacklogFlushedInOrder(t *testing.T) {
	h := NewHub(HubWithSubscriberCapacity(1))
	for i := range 5 {
		h.Publish(frame("A", "", fmt.Sprintf("t%d", i)))
	}

	sub, err := h.Subscribe(context.Background(), "A")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer sub.Close()
	for i := range 5 {
		if got := receive(t, sub); got.Type != fmt.Sprintf("t%d", i) {
			t.Errorf("frame %d = %q", i, got.Type)
		}
	}
}

func TestHub_BacklogLimitDropsOldest(t *testing.T) {
	h := NewHub(HubWithBacklogLimit(2))
	for i := range 3 {
		h.Publish(frame("A", "", fmt.Sprintf("t%d", i)))
	}
	sub, _ := h.Subscribe(context.Background(), "A")
	defer sub.Close()

	if got := receive(t, sub); got.Type != "t1" {
		t.Errorf("first = %q, want t1", got.Type)
	}
	if got := receive(t, sub); got.Type != "t2" {
		t.Errorf("second = %q, want t2", got.Type)
	}
	expectNone(t, sub)
}

func TestHub_DedupesEventIDs(t *testing.T) {
	h := NewHub(HubWithDedupeWindow(2))
	sub, _ := h.Subscribe(context.Background(), "A")
	defer sub.Close()

	h.Publish(frame("A", "e1", "one"))
	h.Publish(frame("A", "e1", "one-again"))
	h.Publish(frame("A", "", "no-id"))
	h.Publish(frame("A", "", "no-id"))

	want := []string{"one", "no-id", "no-id"}
	for _, w := range want {
		if got := receive(t, sub); got.Type != w {
			t.Errorf("got %q, want %q", got.Type, w)
		}
	}
	expectNone(t, sub)

	// e1 falls out of a window of two
	h.Publish(frame("A", "e2", "two"))
	h.Publish(frame("A", "e3", "three"))
	h.Publish(frame("A", "e1", "one-late"))
	for _, w := range []string{"two", "three", "one-late"} {
		if got := receive(t, sub); got.Type != w {
			t.Errorf("got %q, want %q", got.Type, w)
		}
	}
}

func TestHub_ContextCancelClosesSubscription(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	sub, _ := h.Subscribe(ctx, "A")
	if h.Subscribers("A") != 1 {
		t.Fatalf("Subscribers() = %d, want 1", h.Subscribers("A"))
	}
	cancel()

	select {
	case _, ok := <-sub.Frames():
		if ok {
			t.Error("received a frame after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed")
	}
	if h.Subscribers("A") != 0 {
		t.Errorf("Subscribers() = %d after close", h.Subscribers("A"))
	}
	// Publishing after close buffers instead of panicking
	h.Publish(frame("A", "", "later"))
	_ = sub.Close()
}

func TestHub_CloseUnblocksPublisher(t *testing.T) {
	h := NewHub(HubWithSubscriberCapacity(1))
	sub, _ := h.Subscribe(context.Background(), "A")

	done := make(chan struct{})
	go func() {
		for i := range 3 {
			h.Publish(frame("A", "", fmt.Sprintf("t%d", i)))
		}
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	_ = sub.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a closed subscriber")
	}
}

func TestHub_PublishJSON(t *testing.T) {
	h := NewHub()
	sub, _ := h.Subscribe(context.Background(), "A")
	defer sub.Close()

	if err := h.PublishJSON([]byte(`{"type":"workflow_complete","session_id":"A","event_id":"x"}`)); err != nil {
		t.Fatalf("PublishJSON() error = %v", err)
	}
	if got := receive(t, sub); got.EventID != "x" {
		t.Errorf("EventID = %q", got.EventID)
	}
	if err := h.PublishJSON([]byte(`{"session_id":"A"}`)); err == nil {
		t.Error("PublishJSON() without type error = nil")
	}
}
