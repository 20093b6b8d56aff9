package internal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dlclark/regexp2"
	"gopkg.in/yaml.v3"
)

// Underscore is the escape byte, so it is unsafe too
var unsafeKeyChars = regexp2.MustCompile(`[^A-Za-z0-9.-]+`, regexp2.None)

// FileSnapshotStore keeps one JSON file per key plus a YAML index
type FileSnapshotStore struct {
	dir string
	mu  sync.Mutex
}

// SnapshotIndexEntry describes one stored snapshot
type SnapshotIndexEntry struct {
	Key          string    `yaml:"key"`
	File         string    `yaml:"file"`
	MessageCount int       `yaml:"message_count"`
	UpdatedAt    time.Time `yaml:"updated_at"`
}

// SnapshotIndex is the YAML index of all snapshots in a directory
type SnapshotIndex struct {
	Snapshots []SnapshotIndexEntry `yaml:"snapshots"`
	Version   string               `yaml:"version"`
}

// NewFileSnapshotStore creates a store rooted at dir
func NewFileSnapshotStore(dir string) *FileSnapshotStore {
	return &FileSnapshotStore{dir: dir}
}

// Dir returns the snapshot directory
func (fs *FileSnapshotStore) Dir() string {
	return fs.dir
}

// IndexPath returns the path to the snapshot index YAML file
func (fs *FileSnapshotStore) IndexPath() string {
	return filepath.Join(fs.dir, "snapshots.yaml")
}

// SnapshotPath returns the path to a key's snapshot file. Each unsafe
// byte becomes _xx so distinct keys never share a file.
func (fs *FileSnapshotStore) SnapshotPath(key string) string {
	name, err := unsafeKeyChars.ReplaceFunc(key, func(m regexp2.Match) string {
		return escapeKey(m.String())
	}, -1, -1)
	if err != nil {
		name = escapeKey(key)
	}
	return filepath.Join(fs.dir, fmt.Sprintf("snapshot_%s.json", name))
}

func escapeKey(s string) string {
	var b strings.Builder
	for _, c := range []byte(s) {
		fmt.Fprintf(&b, "_%02x", c)
	}
	return b.String()
}

// LoadIndex loads the snapshot index; a missing index is empty
func (fs *FileSnapshotStore) LoadIndex() (*SnapshotIndex, error) {
	data, err := os.ReadFile(fs.IndexPath())
	if os.IsNotExist(err) {
		return &SnapshotIndex{Version: "1.0"}, nil
	}
	if err != nil {
		return nil, err
	}

	var index SnapshotIndex
	if err := yaml.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("failed to unmarshal index: %w", err)
	}
	return &index, nil
}

func (fs *FileSnapshotStore) saveIndex(index *SnapshotIndex) error {
	data, err := yaml.Marshal(index)
	if err != nil {
		return fmt.Errorf("failed to marshal index: %w", err)
	}
	return writeFileAtomic(fs.IndexPath(), data)
}

// Load returns the snapshot stored under key
func (fs *FileSnapshotStore) Load(key string) ([]byte, bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	data, err := os.ReadFile(fs.SnapshotPath(key))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Save writes the snapshot file and updates the index entry
func (fs *FileSnapshotStore) Save(key string, value []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := os.MkdirAll(fs.dir, 0755); err != nil {
		return err
	}
	path := fs.SnapshotPath(key)
	if err := writeFileAtomic(path, value); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}

	index, err := fs.LoadIndex()
	if err != nil {
		// A broken index is rebuilt from this save onward
		LogWarn("Rebuilding snapshot index: %v", err)
		index = &SnapshotIndex{Version: "1.0"}
	}
	entry := SnapshotIndexEntry{
		Key:          key,
		File:         filepath.Base(path),
		MessageCount: countEntries(value),
		UpdatedAt:    time.Now().UTC(),
	}
	i := slices.IndexFunc(index.Snapshots, func(e SnapshotIndexEntry) bool { return e.Key == key })
	if i >= 0 {
		index.Snapshots[i] = entry
	} else {
		index.Snapshots = append(index.Snapshots, entry)
	}
	return fs.saveIndex(index)
}

// Keys lists indexed keys in lexical order
func (fs *FileSnapshotStore) Keys() ([]string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	index, err := fs.LoadIndex()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(index.Snapshots))
	for _, e := range index.Snapshots {
		keys = append(keys, e.Key)
	}
	slices.Sort(keys)
	return keys, nil
}

// Close is a no-op
func (fs *FileSnapshotStore) Close() error {
	return nil
}

// Clear removes every indexed snapshot and the index itself
func (fs *FileSnapshotStore) Clear() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	index, err := fs.LoadIndex()
	if err == nil {
		for _, entry := range index.Snapshots {
			_ = os.Remove(filepath.Join(fs.dir, entry.File))
		}
	}
	if err := os.Remove(fs.IndexPath()); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func countEntries(value []byte) int {
	var entries []json.RawMessage
	if err := json.Unmarshal(value, &entries); err != nil {
		return 0
	}
	return len(entries)
}
