package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	. "github.com/roelfdiedericks/chatreply/internal/logging"
)

// Store keeps uploaded attachments on disk so later turns can reload them.
type Store struct {
	baseDir string
	maxSize int64
	mu      sync.Mutex
}

// NewStore creates dir (expanding ~) with owner-only permissions.
func NewStore(dir string, maxSize int) (*Store, error) {
	if dir == "" {
		dir = "media"
	}
	if strings.HasPrefix(dir, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(home, dir[1:])
	}
	dir, err := filepath.Abs(filepath.Clean(dir))
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create media directory: %w", err)
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxBytes
	}
	L_debug("media: store initialized", "dir", dir, "maxSize", maxSize)
	return &Store{baseDir: dir, maxSize: int64(maxSize)}, nil
}

// Save writes data under conversation/ with a random name and returns the
// absolute path.
func (s *Store) Save(conversationID string, data []byte, ext string) (string, error) {
	if int64(len(data)) > s.maxSize {
		return "", fmt.Errorf("file size %d exceeds limit %d", len(data), s.maxSize)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.baseDir, sanitizeFilename(conversationID))
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create subdirectory: %w", err)
	}

	path := filepath.Join(dir, uuid.NewString()[:8]+ext)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	L_debug("media: saved file", "path", path, "size", len(data))
	return path, nil
}

// Contains reports whether path lies inside the store.
func (s *Store) Contains(path string) bool {
	rel, err := filepath.Rel(s.baseDir, path)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}

// BaseDir returns the base directory of the media store.
func (s *Store) BaseDir() string {
	return s.baseDir
}

func sanitizeFilename(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	safe := strings.Trim(b.String(), "_")
	if safe == "" {
		return "unknown"
	}
	if len(safe) > 64 {
		safe = safe[:64]
	}
	return safe
}
