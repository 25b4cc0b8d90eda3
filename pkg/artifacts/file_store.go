package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore is a filesystem-backed Store. Objects are laid out exactly as
// the ObjectPath describes, e.g. <base>/eval/{task_id}.json. Writes go to a
// temp file and are committed with an atomic rename.
type FileStore struct {
	baseDir string
	mu      sync.Mutex
}

// NewFileStore creates a filesystem artifact store rooted at baseDir.
func NewFileStore(baseDir string) (*FileStore, error) {
	//nolint:gosec // G301: 0755 is intentional for shared artifact directory
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to ensure artifact dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) path(key Key) string {
	return filepath.Join(s.baseDir, filepath.FromSlash(key.ObjectPath()))
}

func (s *FileStore) Put(ctx context.Context, key Key, v any) error {
	data, err := encode(v)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(key)
	if existing, err := os.ReadFile(path); err == nil { //nolint:gosec // path derived from validated key
		if sameContent(existing, data) {
			return nil
		}
		return ErrConflict
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to probe artifact: %w", err)
	}

	//nolint:gosec // G301: stage directories are shared
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to ensure stage dir: %w", err)
	}

	tmpPath := path + ".tmp"
	//nolint:gosec // G306: artifacts are world-readable records
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to commit artifact: %w", err)
	}
	return nil
}

func (s *FileStore) Get(ctx context.Context, key Key, dst any) error {
	data, err := os.ReadFile(s.path(key)) //nolint:gosec // path derived from validated key
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to read artifact: %w", err)
	}
	return decode(data, dst)
}

func (s *FileStore) Exists(ctx context.Context, key Key) (bool, error) {
	_, err := os.Stat(s.path(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat artifact: %w", err)
}
