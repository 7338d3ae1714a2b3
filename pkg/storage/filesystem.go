package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LocalStorage keeps rendered agenda files on disk. Every file is addressed
// by a path relative to the export root; nothing outside the root is ever
// touched.
type LocalStorage struct {
	root string
}

// NewLocalStorage ensures the export root exists and returns a handle.
func NewLocalStorage(root string) (*LocalStorage, error) {
	if root == "" {
		root = "./exports"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create export root: %w", err)
	}
	return &LocalStorage{root: root}, nil
}

// Save writes an agenda file, creating intermediate directories as needed.
func (s *LocalStorage) Save(name string, data []byte) (string, error) {
	path, err := s.resolve(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("prepare export directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write export file: %w", err)
	}
	return name, nil
}

// Open returns a read-only handle for a stored agenda file.
func (s *LocalStorage) Open(name string) (*os.File, error) {
	path, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open export file: %w", err)
	}
	return file, nil
}

// Path maps the relative name onto the export root, empty for names the
// sandbox rejects.
func (s *LocalStorage) Path(name string) string {
	path, err := s.resolve(name)
	if err != nil {
		return ""
	}
	return path
}

// resolve sandboxes the name under the root. Absolute paths and upward
// traversal are rejected; download tokens carry attacker-visible paths.
func (s *LocalStorage) resolve(name string) (string, error) {
	if name == "" || filepath.IsAbs(name) {
		return "", fmt.Errorf("invalid export file name %q", name)
	}
	clean := filepath.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid export file name %q", name)
	}
	return filepath.Join(s.root, clean), nil
}
