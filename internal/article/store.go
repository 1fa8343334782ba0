package article

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Store reads and writes article records as JSON files under a corpus
// root, one file per article.
type Store struct {
	root string
}

// NewStore creates a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{root: dir}
}

// Root returns the corpus directory.
func (s *Store) Root() string { return s.root }

// EnsureRoot creates the corpus directory if it does not exist yet.
func (s *Store) EnsureRoot() error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("create corpus dir %s: %w", s.root, err)
	}
	return nil
}

// List returns the paths of every article file under the root,
// recursively, in walk order.
func (s *Store) List() ([]string, error) {
	var paths []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".json") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list corpus %s: %w", s.root, err)
	}
	return paths, nil
}

// PathFor returns the canonical file path for an article id.
func (s *Store) PathFor(id string) string {
	return filepath.Join(s.root, id+".json")
}

// Exists reports whether a record for id is already on disk.
func (s *Store) Exists(id string) bool {
	_, err := os.Stat(s.PathFor(id))
	return err == nil
}

// Load reads and decodes one article file.
func (s *Store) Load(path string) (Article, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Article{}, fmt.Errorf("read article file: %w", err)
	}
	a, err := Decode(data)
	if err != nil {
		return Article{}, fmt.Errorf("decode article file %s: %w", path, err)
	}
	return a, nil
}

// Write persists an article at path using write-to-temp-then-rename, so
// a crash mid-write never leaves a truncated record: the previous file
// survives untouched until the replacement is fully on disk.
func (s *Store) Write(path string, a Article) error {
	data, err := Encode(a)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace article file: %w", err)
	}
	return nil
}

// Save writes the article under its canonical path and returns it.
func (s *Store) Save(a Article) (string, error) {
	if err := a.Validate(); err != nil {
		return "", err
	}
	path := s.PathFor(a.ID)
	if err := s.Write(path, a); err != nil {
		return "", err
	}
	return path, nil
}
