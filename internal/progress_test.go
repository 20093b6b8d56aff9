package internal

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestShowProgress(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		message string
		fn      func() error
		wantErr bool
	}{
		{
			name:    "successful function",
			message: "Testing",
			fn: func() error {
				return nil
			},
			wantErr: false,
		},
		{
			name:    "function with error",
			message: "Testing error",
			fn: func() error {
				return errors.New("test error")
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ShowProgress(ctx, tt.message, tt.fn)
			if (err != nil) != tt.wantErr {
				t.Errorf("ShowProgress() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestShowProgressSimple_Markers(t *testing.T) {
	var buf bytes.Buffer
	if err := showProgressSimple(context.Background(), &buf, "Saving", func() error { return nil }); err != nil {
		t.Fatalf("showProgressSimple() error = %v", err)
	}
	if !strings.Contains(buf.String(), "✓") || !strings.Contains(buf.String(), "Saving") {
		t.Errorf("success output = %q", buf.String())
	}

	buf.Reset()
	wantErr := errors.New("disk full")
	err := showProgressSimple(context.Background(), &buf, "Saving", func() error { return wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("showProgressSimple() error = %v, want %v", err, wantErr)
	}
	if !strings.Contains(buf.String(), "✗") {
		t.Errorf("failure output = %q", buf.String())
	}
}

func TestShowProgressSimple_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	release := make(chan struct{})
	defer close(release)
	var buf bytes.Buffer
	err := showProgressSimple(ctx, &buf, "Waiting", func() error {
		<-release
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("showProgressSimple() error = %v, want deadline exceeded", err)
	}
}

func TestWaitForSubmission(t *testing.T) {
	sub := newSubmission("local-1")
	sub.finish(ErrSubmissionCancelled)
	if err := WaitForSubmission(context.Background(), sub); !errors.Is(err, ErrSubmissionCancelled) {
		t.Errorf("WaitForSubmission() error = %v, want ErrSubmissionCancelled", err)
	}

	ok := newSubmission("local-2")
	ok.finish(nil)
	if err := WaitForSubmission(context.Background(), ok); err != nil {
		t.Errorf("WaitForSubmission() error = %v, want nil", err)
	}
}

func TestIsTerminal_NonFile(t *testing.T) {
	if IsTerminal(&bytes.Buffer{}) {
		t.Error("IsTerminal(buffer) = true, want false")
	}
}
