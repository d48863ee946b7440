// Package local is the filesystem-backed artifact cache. It never performs
// network I/O; reconciliation against the remote store is the engine's job.
package local

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"solvault/internal/artifact"
)

// ErrNotFound reports a missing artifact or tag file.
var ErrNotFound = errors.New("artifact not found")

const (
	idsDir  = "ids"
	tagsDir = "tags"

	artifactExt = ".json"

	// retrieveCacheSize bounds the parsed-artifact read cache. List and diff
	// re-read the same files repeatedly; entries are keyed by path+mtime so a
	// rewritten file is never served stale.
	retrieveCacheSize = 256
)

// Entry is one listed id or tag with its filesystem last-modified time.
// Ordering of listings is not guaranteed.
type Entry struct {
	Name         string
	LastModified time.Time
}

// Store lays artifacts out as <root>/<project>/ids/<id>.json and
// <root>/<project>/tags/<tag>.json.
type Store struct {
	root  string
	cache *lru.Cache[string, *artifact.Artifact]
}

func NewStore(root string) (*Store, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("local store root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve local store root: %w", err)
	}
	cache, err := lru.New[string, *artifact.Artifact](retrieveCacheSize)
	if err != nil {
		return nil, err
	}
	return &Store{root: abs, cache: cache}, nil
}

// Root returns the absolute directory this store is bound to.
func (s *Store) Root() string {
	if s == nil {
		return ""
	}
	return s.root
}

// EnsureSetup creates the store root. Idempotent.
func (s *Store) EnsureSetup() error {
	if s == nil {
		return fmt.Errorf("store is nil")
	}
	return os.MkdirAll(s.root, 0o755)
}

// EnsureProjectSetup creates <root>/<project>/{ids,tags}. Idempotent.
func (s *Store) EnsureProjectSetup(project string) error {
	if s == nil {
		return fmt.Errorf("store is nil")
	}
	if err := checkName(project); err != nil {
		return err
	}
	for _, dir := range []string{
		filepath.Join(s.root, project, idsDir),
		filepath.Join(s.root, project, tagsDir),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensure project %s: %w", project, err)
		}
	}
	return nil
}

// HasID reports whether an artifact file exists for id. Absence is a normal
// false, never an error.
func (s *Store) HasID(project, id string) (bool, error) {
	return s.exists(project, idsDir, id)
}

// HasTag reports whether a tag file exists.
func (s *Store) HasTag(project, tag string) (bool, error) {
	return s.exists(project, tagsDir, tag)
}

// ListIDs returns every stored id for the project with its mod time.
func (s *Store) ListIDs(project string) ([]Entry, error) {
	return s.list(project, idsDir)
}

// ListTags returns every stored tag for the project with its mod time.
func (s *Store) ListTags(project string) ([]Entry, error) {
	return s.list(project, tagsDir)
}

// CreateArtifactByID writes the artifact under its id, overwriting any
// previous file. Existence policy is enforced by callers, not here.
func (s *Store) CreateArtifactByID(project string, a *artifact.Artifact) error {
	if a == nil {
		return fmt.Errorf("artifact is nil")
	}
	return s.write(project, idsDir, a.ID, a)
}

// CreateArtifactByTag writes the artifact under a tag, overwriting any
// previous file.
func (s *Store) CreateArtifactByTag(project, tag string, a *artifact.Artifact) error {
	if a == nil {
		return fmt.Errorf("artifact is nil")
	}
	return s.write(project, tagsDir, tag, a)
}

// RetrieveArtifactByID reads, parses and schema-validates the artifact stored
// under id. A validation failure is fatal for the read; a partially written
// or externally corrupted cache file must never be returned.
func (s *Store) RetrieveArtifactByID(project, id string) (*artifact.Artifact, error) {
	return s.retrieve(project, idsDir, id)
}

// RetrieveArtifactByTag reads, parses and schema-validates the artifact the
// tag points to.
func (s *Store) RetrieveArtifactByTag(project, tag string) (*artifact.Artifact, error) {
	return s.retrieve(project, tagsDir, tag)
}

// RetrieveArtifactID computes the fallback whole-file checksum of a tag file.
// This is NOT the canonical artifact id; it is a quick identity check that
// skips the full parse.
func (s *Store) RetrieveArtifactID(project, tag string) (string, error) {
	path, err := s.entryPath(project, tagsDir, tag)
	if err != nil {
		return "", err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("read tag %s/%s: %w", project, tag, err)
	}
	return artifact.FileChecksum(raw), nil
}

// ListProjects enumerates the top-level project directories.
func (s *Store) ListProjects() ([]string, error) {
	if s == nil {
		return nil, fmt.Errorf("store is nil")
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list projects: %w", err)
	}
	var projects []string
	for _, e := range entries {
		if e.IsDir() {
			projects = append(projects, e.Name())
		}
	}
	return projects, nil
}

func (s *Store) exists(project, kind, name string) (bool, error) {
	path, err := s.entryPath(project, kind, name)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	return !info.IsDir(), nil
}

func (s *Store) list(project, kind string) ([]Entry, error) {
	if s == nil {
		return nil, fmt.Errorf("store is nil")
	}
	if err := checkName(project); err != nil {
		return nil, err
	}
	dir := filepath.Join(s.root, project, kind)
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s for %s: %w", kind, project, err)
	}
	var out []Entry
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), artifactExt) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", de.Name(), err)
		}
		out = append(out, Entry{
			Name:         strings.TrimSuffix(de.Name(), artifactExt),
			LastModified: info.ModTime(),
		})
	}
	return out, nil
}

func (s *Store) write(project, kind, name string, a *artifact.Artifact) error {
	if s == nil {
		return fmt.Errorf("store is nil")
	}
	if err := s.EnsureProjectSetup(project); err != nil {
		return err
	}
	path, err := s.entryPath(project, kind, name)
	if err != nil {
		return err
	}
	data, err := artifact.Encode(a)
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func (s *Store) retrieve(project, kind, name string) (*artifact.Artifact, error) {
	path, err := s.entryPath(project, kind, name)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	cacheKey := path + "|" + info.ModTime().UTC().Format(time.RFC3339Nano)
	if a, ok := s.cache.Get(cacheKey); ok {
		return a, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	a, err := artifact.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	s.cache.Add(cacheKey, a)
	return a, nil
}

func (s *Store) entryPath(project, kind, name string) (string, error) {
	if s == nil {
		return "", fmt.Errorf("store is nil")
	}
	if err := checkName(project); err != nil {
		return "", err
	}
	if err := checkName(name); err != nil {
		return "", err
	}
	return filepath.Join(s.root, project, kind, name+artifactExt), nil
}

// checkName rejects path components that would escape the store root.
func checkName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("name is required")
	}
	if name == "." || name == ".." ||
		strings.ContainsRune(name, '/') || strings.ContainsRune(name, '\\') ||
		strings.ContainsRune(name, filepath.Separator) {
		return fmt.Errorf("name %q must be a single path component", name)
	}
	return nil
}
