package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LocalStorage serves media files from a base directory. It stands in for the
// hosted bucket in development.
type LocalStorage struct {
	baseDir string
}

// NewLocalStorage ensures the base directory exists and returns a handle.
func NewLocalStorage(baseDir string) (*LocalStorage, error) {
	if baseDir == "" {
		baseDir = "./media"
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve media directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create media directory: %w", err)
	}
	return &LocalStorage{baseDir: abs}, nil
}

// Open returns a read-only handle for a stored file. Paths escaping the base directory are rejected.
func (s *LocalStorage) Open(name string) (*os.File, error) {
	path, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open media file: %w", err)
	}
	return file, nil
}

// Save writes data under name, creating parent directories.
func (s *LocalStorage) Save(name string, data []byte) error {
	path, err := s.resolve(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("prepare media directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write media file: %w", err)
	}
	return nil
}

func (s *LocalStorage) resolve(name string) (string, error) {
	path := filepath.Join(s.baseDir, filepath.FromSlash(strings.TrimLeft(name, "/")))
	if path != s.baseDir && !strings.HasPrefix(path, s.baseDir+string(os.PathSeparator)) {
		return "", fmt.Errorf("media path outside storage: %s", name)
	}
	return path, nil
}
