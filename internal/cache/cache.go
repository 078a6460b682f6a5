package cache

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/LouisBoudreau/licensed/internal/record"
)

// Extension is appended to every record file name
const Extension = ".dep.yml"

// DefaultDir is the cache directory used when none is configured
const DefaultDir = ".licenses"

// Store persists one dependency record per file under Dir/<type>/<name>.dep.yml
type Store struct {
	Dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a store rooted at dir
func New(dir string) (*Store, error) {
	if dir == "" {
		dir = DefaultDir
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	return &Store{
		Dir:   dir,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// Path returns the full path to the record file for a dependency
func (s *Store) Path(sourceType, name string) string {
	return filepath.Join(s.Dir, sourceType, filepath.FromSlash(name)+Extension)
}

// Lock serializes writers of a single record path. The returned function
// releases the lock.
func (s *Store) Lock(sourceType, name string) func() {
	path := s.Path(sourceType, name)

	s.mu.Lock()
	if s.locks == nil {
		s.locks = make(map[string]*sync.Mutex)
	}
	l, ok := s.locks[path]
	if !ok {
		l = &sync.Mutex{}
		s.locks[path] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Load reads the cached record. A missing record returns nil without error,
// a malformed one returns a *record.SerializationError.
func (s *Store) Load(sourceType, name string) (*record.Record, error) {
	r, err := record.Read(s.Path(sourceType, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return r, err
}

// Save writes the record for a dependency
func (s *Store) Save(sourceType, name string, r *record.Record) error {
	return r.Save(s.Path(sourceType, name))
}

// Delete removes the record for a dependency. Deleting a missing record is not an error.
func (s *Store) Delete(sourceType, name string) error {
	path := s.Path(sourceType, name)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	s.pruneEmptyDirs(filepath.Dir(path), filepath.Join(s.Dir, sourceType))
	return nil
}

// Names returns the dependency names with a record for the source type, sorted
func (s *Store) Names(sourceType string) ([]string, error) {
	root := filepath.Join(s.Dir, sourceType)

	var names []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p == root {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), Extension) {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(strings.TrimSuffix(rel, Extension)))
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(names)
	return names, nil
}

// pruneEmptyDirs removes empty directories left behind by nested names
// such as scoped npm packages, stopping at stop
func (s *Store) pruneEmptyDirs(dir, stop string) {
	for dir != stop && strings.HasPrefix(dir, stop) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
