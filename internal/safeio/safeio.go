// Package safeio confines file reads to a fixed root directory. Original
// build files travel as paths relative to their project root; resolving them
// here guarantees an archived file can never come from outside that root,
// even through a symlink.
package safeio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FS reads files relative to a fixed root. Paths that resolve outside the
// root, including via symlinks, are rejected.
type FS struct {
	absRoot string
}

// New binds all future reads to root. The root is resolved to an absolute,
// symlink-free directory up front so every later prefix check compares
// canonical paths.
func New(root string) (*FS, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("safeio: root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	abs, err = filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("safeio: root %s is not a directory", abs)
	}
	return &FS{absRoot: abs}, nil
}

// Root returns the absolute directory this FS is bound to.
func (s *FS) Root() string {
	if s == nil {
		return ""
	}
	return s.absRoot
}

// ReadFile reads one regular file at a root-relative path.
func (s *FS) ReadFile(rel string) ([]byte, error) {
	p, err := s.resolve(rel)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(p)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("safeio: %s is a directory", rel)
	}
	return os.ReadFile(p)
}

func (s *FS) resolve(rel string) (string, error) {
	if s == nil {
		return "", errors.New("safeio: filesystem not configured")
	}
	if rel == "" {
		return "", errors.New("safeio: empty path")
	}
	clean := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(clean) {
		return "", fmt.Errorf("safeio: %s must be relative to the root", rel)
	}
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("safeio: %s escapes the root", rel)
	}

	resolved, err := filepath.EvalSymlinks(filepath.Join(s.absRoot, clean))
	if err != nil {
		return "", err
	}
	if !underRoot(resolved, s.absRoot) {
		return "", fmt.Errorf("safeio: %s resolves outside the root", rel)
	}
	return resolved, nil
}

func underRoot(path, root string) bool {
	path = filepath.Clean(path)
	root = filepath.Clean(root)
	if path == root {
		return true
	}
	sep := string(filepath.Separator)
	return strings.HasPrefix(path, root+sep)
}
