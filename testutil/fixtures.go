package testutil

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	_ "modernc.org/sqlite"
	"nhooyr.io/websocket"
)

// Frame builds one wire frame as JSON. Empty sessionID omits the field.
func Frame(t *testing.T, frameType, sessionID string, data map[string]any) []byte {
	t.Helper()
	frame := map[string]any{"type": frameType}
	if sessionID != "" {
		frame["session_id"] = sessionID
	}
	if data != nil {
		frame["data"] = data
	}
	return JSONMarshal(t, frame)
}

// WriteFramesFile writes frames as JSON lines and returns the file path
func WriteFramesFile(t *testing.T, dir string, frames ...[]byte) string {
	t.Helper()
	path := filepath.Join(dir, "frames.jsonl")
	var b strings.Builder
	for _, f := range frames {
		b.Write(f)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		t.Fatalf("Failed to write frames file: %v", err)
	}
	return path
}

// CreateSQLiteFixture creates a snapshot database holding one transcript
func CreateSQLiteFixture(t *testing.T, dbPath, key, transcript string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		t.Fatalf("Failed to create fixture directory: %v", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	if _, err := db.Exec(createSnapshotTableSQL); err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}
	InsertSnapshot(t, db, key, transcript)
}

// FrameServer is a websocket endpoint that writes canned frames to each client
type FrameServer struct {
	*httptest.Server

	mu      sync.Mutex
	queries []url.Values
	frames  [][]byte
	hold    bool
}

// NewFrameServer starts a server writing frames then closing normally.
// With hold set the connection stays open until the client leaves.
func NewFrameServer(t *testing.T, hold bool, frames ...[]byte) *FrameServer {
	t.Helper()
	fs := &FrameServer{frames: frames, hold: hold}
	fs.Server = httptest.NewServer(http.HandlerFunc(fs.serve))
	t.Cleanup(fs.Close)
	return fs
}

// WSURL returns the ws:// base URL of the server
func (fs *FrameServer) WSURL() string {
	return "ws" + strings.TrimPrefix(fs.URL, "http") + "/ws"
}

// Queries returns the query string of every accepted connection
func (fs *FrameServer) Queries() []url.Values {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]url.Values(nil), fs.queries...)
}

func (fs *FrameServer) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	fs.mu.Lock()
	fs.queries = append(fs.queries, r.URL.Query())
	fs.mu.Unlock()

	ctx := r.Context()
	for _, f := range fs.frames {
		if err := conn.Write(ctx, websocket.MessageText, f); err != nil {
			return
		}
	}
	if fs.hold {
		// Blocks until the client closes or the server shuts down
		_, _, _ = conn.Read(ctx)
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "done")
}
