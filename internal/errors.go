package internal

import "fmt"

// FrameError represents a push frame of a known type whose payload is malformed
type FrameError struct {
	Type string
	Err  error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("frame error [%s]: %v", e.Type, e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// SnapshotError represents errors reading or writing the transcript snapshot
type SnapshotError struct {
	Key string
	Op  string // "load", "save", "decode"
	Err error
}

func (e *SnapshotError) Error() string {
	return fmt.Sprintf("snapshot error: %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *SnapshotError) Unwrap() error {
	return e.Err
}

// FallbackError represents a failed request/response submission
type FallbackError struct {
	SessionID string
	Status    int // HTTP status, 0 when the request never completed
	Err       error
}

func (e *FallbackError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fallback error [%s] status %d: %v", e.SessionID, e.Status, e.Err)
	}
	return fmt.Sprintf("fallback error [%s]: %v", e.SessionID, e.Err)
}

func (e *FallbackError) Unwrap() error {
	return e.Err
}

// TransportError represents push channel failures
type TransportError struct {
	URL string
	Op  string // "dial", "read", "decode"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
