package internal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultServerURL is the session API used when nothing is configured
	DefaultServerURL = "http://127.0.0.1:8000"
	// DefaultRequestTimeout bounds one fallback call
	DefaultRequestTimeout = 2 * time.Minute

	configDirName  = ".pipeline-session"
	configFileName = "config.yaml"
	envPrefix      = "PIPELINE_SESSION_"
)

// StorageSettings selects the snapshot backend
type StorageSettings struct {
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	SnapshotKey string `yaml:"snapshot_key"`
}

// Settings is the runtime configuration of the CLI and engine
type Settings struct {
	ServerURL      string           `yaml:"server_url"`
	WSURL          string           `yaml:"ws_url"`
	Session        string           `yaml:"session"`
	BoundedWait    time.Duration    `yaml:"bounded_wait"`
	RequestTimeout time.Duration    `yaml:"request_timeout"`
	Banners        BannerTTLs       `yaml:"banners"`
	Storage        StorageSettings  `yaml:"storage"`
	Pipeline       []AgentSpec      `yaml:"pipeline"`
	Directives     DirectivePhrases `yaml:"directives"`
}

// ConfigDir returns ~/.pipeline-session
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, configDirName), nil
}

// DefaultConfigPath returns ~/.pipeline-session/config.yaml
func DefaultConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFileName), nil
}

// LoadSettings reads the config file, applies environment overrides and
// fills defaults. With an empty path the default location is used and a
// missing file is not an error.
func LoadSettings(path string) (Settings, error) {
	var settings Settings
	explicit := path != ""
	if !explicit {
		p, err := DefaultConfigPath()
		if err != nil {
			return settings, err
		}
		path = p
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &settings); err != nil {
			return settings, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		LogDebug("No config file at %s, using defaults", path)
	default:
		return settings, fmt.Errorf("failed to read config: %w", err)
	}

	if err := settings.applyEnvOverrides(os.LookupEnv); err != nil {
		return settings, err
	}
	if err := settings.normalize(); err != nil {
		return settings, err
	}
	return settings, nil
}

func (s *Settings) applyEnvOverrides(lookup func(string) (string, bool)) error {
	get := func(name string) string {
		v, _ := lookup(envPrefix + name)
		return strings.TrimSpace(v)
	}
	if v := get("SERVER_URL"); v != "" {
		s.ServerURL = v
	}
	if v := get("WS_URL"); v != "" {
		s.WSURL = v
	}
	if v := get("SESSION"); v != "" {
		s.Session = v
	}
	if v := get("BOUNDED_WAIT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %sBOUNDED_WAIT: %w", envPrefix, err)
		}
		s.BoundedWait = d
	}
	if v := get("STORAGE"); v != "" {
		s.Storage.Path = v
	}
	if v := get("STORAGE_BACKEND"); v != "" {
		s.Storage.Backend = v
	}
	return nil
}

func (s *Settings) normalize() error {
	s.ServerURL = strings.TrimRight(strings.TrimSpace(s.ServerURL), "/")
	if s.ServerURL == "" {
		s.ServerURL = DefaultServerURL
	}
	if strings.TrimSpace(s.WSURL) == "" {
		s.WSURL = deriveWSURL(s.ServerURL)
	}
	s.Session = strings.TrimSpace(s.Session)
	if s.BoundedWait <= 0 {
		s.BoundedWait = DefaultBoundedWait
	}
	if s.RequestTimeout <= 0 {
		s.RequestTimeout = DefaultRequestTimeout
	}
	s.Banners = s.Banners.withDefaults()

	s.Storage.Backend = strings.ToLower(strings.TrimSpace(s.Storage.Backend))
	if s.Storage.Backend == "" {
		s.Storage.Backend = BackendSQLite
	}
	if s.Storage.Backend != BackendSQLite && s.Storage.Backend != BackendFile {
		return fmt.Errorf("unknown storage backend %q", s.Storage.Backend)
	}
	if s.Storage.Path == "" {
		dir, err := ConfigDir()
		if err != nil {
			return err
		}
		if s.Storage.Backend == BackendFile {
			s.Storage.Path = filepath.Join(dir, "snapshots")
		} else {
			s.Storage.Path = filepath.Join(dir, "snapshots.db")
		}
	}
	if s.Storage.SnapshotKey == "" {
		s.Storage.SnapshotKey = DefaultSnapshotKey
	}
	if len(s.Pipeline) == 0 {
		s.Pipeline = append([]AgentSpec(nil), DefaultAgents...)
	}
	return nil
}

// Registry builds the pipeline registry from the configured agents
func (s Settings) Registry() (*Registry, error) {
	if len(s.Pipeline) == 0 {
		return DefaultRegistry(), nil
	}
	return NewRegistry(s.Pipeline)
}

// deriveWSURL maps http(s)://host to ws(s)://host/ws
func deriveWSURL(serverURL string) string {
	switch {
	case strings.HasPrefix(serverURL, "https://"):
		return "wss://" + strings.TrimPrefix(serverURL, "https://") + "/ws"
	case strings.HasPrefix(serverURL, "http://"):
		return "ws://" + strings.TrimPrefix(serverURL, "http://") + "/ws"
	}
	return serverURL + "/ws"
}
