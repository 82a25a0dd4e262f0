package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore stores objects on the local filesystem under a root directory.
type LocalStore struct {
	root string
}

// NewLocalStore creates a local filesystem object store.
func NewLocalStore(root string) *LocalStore {
	return &LocalStore{root: root}
}

// path maps key to a file below root. Keys that would escape root are
// rejected by returning "".
func (s *LocalStore) path(key string) string {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return ""
	}
	return filepath.Join(s.root, clean)
}

func (s *LocalStore) Save(ctx context.Context, key string, data []byte, contentType string) error {
	path := s.path(key)
	if path == "" {
		return fmt.Errorf("invalid key %q", key)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	// Atomic write: temp file + rename
	tmp, err := os.CreateTemp(dir, ".obj-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func (s *LocalStore) LocalPath(key string) string {
	full := s.path(key)
	if full == "" {
		return ""
	}
	if _, err := os.Stat(full); err == nil {
		return full
	}
	return ""
}

func (s *LocalStore) URL(ctx context.Context, key string) (string, error) {
	return "", nil
}

func (s *LocalStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	full := s.path(key)
	if full == "" {
		return nil, fmt.Errorf("invalid key %q", key)
	}
	f, err := os.Open(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return f, err
}

func (s *LocalStore) Exists(ctx context.Context, key string) bool {
	return s.LocalPath(key) != ""
}

func (s *LocalStore) Type() string { return "local" }

// Dir returns the root directory path.
func (s *LocalStore) Dir() string { return s.root }
