package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalStorage is a directory that holds downloaded objects.
type LocalStorage struct {
	dir string
}

// NewLocalStorage creates a new LocalStorage instance.
// If dir is empty, a "pbp" directory under os.TempDir() is used.
// The directory is created if it doesn't exist.
func NewLocalStorage(dir string) (*LocalStorage, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "pbp")
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create download directory: %w", err)
	}

	return &LocalStorage{dir: dir}, nil
}

// Dir returns the directory path.
func (s *LocalStorage) Dir() string {
	return s.dir
}

// Path returns where an object named name is stored.
func (s *LocalStorage) Path(name string) string {
	return filepath.Join(s.dir, filepath.Base(name))
}

// Exists reports whether an object named name is already stored.
func (s *LocalStorage) Exists(name string) bool {
	info, err := os.Stat(s.Path(name))
	return err == nil && info.Mode().IsRegular()
}

// Save writes data to the file for name and returns its path and size.
// The file appears under its final name only once fully written.
func (s *LocalStorage) Save(ctx context.Context, name string, data io.Reader) (string, int64, error) {
	select {
	case <-ctx.Done():
		return "", 0, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	f, err := os.CreateTemp(s.dir, filepath.Base(name)+".part_*")
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}

	tmpName := f.Name()
	n, err := io.Copy(f, data)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(tmpName)
		return "", 0, fmt.Errorf("write file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", 0, fmt.Errorf("close file: %w", err)
	}

	path := s.Path(name)
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return "", 0, fmt.Errorf("rename file: %w", err)
	}

	return path, n, nil
}

// Remove deletes the specified files.
// It continues even if some files fail to delete and returns the first error.
// Missing files are not an error.
func (s *LocalStorage) Remove(paths ...string) error {
	var firstErr error
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove file %s: %w", path, err)
			}
		}
	}
	return firstErr
}
