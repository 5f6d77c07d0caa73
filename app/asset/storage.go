package asset

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Storage persists materialized assets under storage-relative paths.
type Storage interface {
	Exists(path string) (bool, error)
	Write(path string, data []byte) error
}

// FileStorage keeps assets in a directory on the local filesystem.
type FileStorage struct {
	root string
}

func NewFileStorage(root string) (*FileStorage, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &FileStorage{root: root}, nil
}

func (s *FileStorage) Root() string {
	return s.root
}

func (s *FileStorage) resolve(path string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(path))
	if filepath.IsAbs(clean) || clean == "." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || clean == ".." {
		return "", fmt.Errorf("invalid storage path: %s", path)
	}
	return filepath.Join(s.root, clean), nil
}

func (s *FileStorage) Exists(path string) (bool, error) {
	full, err := s.resolve(path)
	if err != nil {
		return false, err
	}

	info, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat asset: %w", err)
	}

	return info.Mode().IsRegular(), nil
}

// Write stores data through a temporary file so readers never see a
// partially written asset.
func (s *FileStorage) Write(path string, data []byte) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}

	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create asset directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".asset-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary asset: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write asset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close asset: %w", err)
	}

	if err := os.Rename(tmp.Name(), full); err != nil {
		return fmt.Errorf("failed to move asset into place: %w", err)
	}

	return nil
}
