package timeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var ErrNoTimeline = errors.New("timeline: no local timeline document")

// Store persists the local timeline document.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore returns a store rooted at path. The parent directory is created
// on first save.
func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string {
	return s.path
}

// Load reads and canonicalizes the stored document.
func (s *Store) Load() (Timeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Timeline{}, fmt.Errorf("%w: %s", ErrNoTimeline, s.path)
		}
		return Timeline{}, fmt.Errorf("read timeline %s: %w", s.path, err)
	}
	t, err := Decode(data, FormatFromPath(s.path))
	if err != nil {
		return Timeline{}, fmt.Errorf("%s: %w", s.path, err)
	}
	t.Canonicalize()
	return t, nil
}

// Save replaces the stored document. The write lands in a temp file first and
// is renamed over the target so readers never observe a partial document.
func (s *Store) Save(t Timeline) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := Encode(t, FormatFromPath(s.path))
	if err != nil {
		return fmt.Errorf("encode timeline: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("ensure timeline directory: %w", err)
	}
	tmpPath := fmt.Sprintf("%s.%d.tmp", s.path, time.Now().UnixNano())
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp timeline: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace timeline file: %w", err)
	}
	return nil
}

// Raw returns the stored document bytes as-is.
func (s *Store) Raw() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoTimeline, s.path)
		}
		return nil, err
	}
	return data, nil
}
