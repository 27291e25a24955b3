package buttons

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// fileRule mirrors StageRule in a JSON-friendly shape for the optional
// catalog override file.
type fileRule struct {
	Type           StageType `json:"type"`
	AllowedTokens  []string  `json:"allowed_tokens"`
	DefaultButtons []Button  `json:"default_buttons"`
}

// Store holds the active catalog and, when configured with an override
// path, keeps it in sync with a JSON file on disk via fsnotify. The
// built-in DefaultCatalog is active until an override loads; a missing
// or unparsable file leaves the previous catalog in place, which after a
// successful load is the last good override.
type Store struct {
	current atomic.Pointer[map[string]StageRule]

	watcher *fsnotify.Watcher
	path    string

	mu sync.Mutex
}

// NewStore returns a Store seeded with DefaultCatalog. If path is
// non-empty, it is loaded immediately (on parse failure the built-in
// catalog is kept) and watched for subsequent edits.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path}
	def := DefaultCatalog()
	s.current.Store(&def)

	if path == "" {
		return s, nil
	}

	s.reload()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	s.watcher = watcher

	if err := watcher.Add(path); err != nil {
		slog.Warn("buttons: could not watch catalog override, using last known catalog", "path", path, "error", err)
	}

	go s.watchLoop()
	return s, nil
}

// Catalog returns the currently active stage → rule map.
func (s *Store) Catalog() map[string]StageRule {
	return *s.current.Load()
}

// Close stops the file watcher, if any.
func (s *Store) Close() error {
	if s.watcher == nil {
		return nil
	}
	return s.watcher.Close()
}

func (s *Store) watchLoop() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				s.reload()
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("buttons: catalog watcher error", "error", err)
		}
	}
}

func (s *Store) reload() {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		slog.Warn("buttons: catalog override unreadable, keeping previous catalog", "path", s.path, "error", err)
		return
	}

	var decoded map[string]fileRule
	if err := json.Unmarshal(data, &decoded); err != nil {
		slog.Warn("buttons: catalog override invalid JSON, keeping previous catalog", "path", s.path, "error", err)
		return
	}

	next := make(map[string]StageRule, len(decoded))
	for stage, r := range decoded {
		next[stage] = StageRule{
			Type:           r.Type,
			AllowedTokens:  r.AllowedTokens,
			DefaultButtons: r.DefaultButtons,
		}
	}
	s.current.Store(&next)
	slog.Info("buttons: catalog override reloaded", "path", s.path, "stages", len(next))
}
