// Package local keeps JSON documents on disk, one file per record,
// grouped into collections.
package local

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const ext = ".json"

// Store provides thread-safe JSON file storage
type Store struct {
	basePath string
	mu       sync.RWMutex
}

// NewStore creates the base directory if needed
func NewStore(basePath string) (*Store, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &Store{basePath: basePath}, nil
}

// Path returns the base directory
func (s *Store) Path() string {
	return s.basePath
}

// Save writes data as the record id in collection. The file is replaced
// atomically so readers never see a partial document.
func (s *Store) Save(collection, id string, data any) error {
	if err := validID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(filepath.Join(s.basePath, collection), id, data)
}

// Load decodes the record id of collection into data
func (s *Store) Load(collection, id string, data any) error {
	if err := validID(id); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return readJSON(filepath.Join(s.basePath, collection, id+ext), data)
}

// Delete removes a record and anything stored beneath it
func (s *Store) Delete(collection, id string) error {
	if err := validID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.basePath, collection, id+ext)
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("remove file: %w", err)
	}
	if err := os.RemoveAll(filepath.Join(s.basePath, collection, id)); err != nil {
		return fmt.Errorf("remove record directory: %w", err)
	}
	return nil
}

// List returns all IDs in a collection, sorted
func (s *Store) List(collection string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listJSON(filepath.Join(s.basePath, collection))
}

// Exists checks if a record exists
func (s *Store) Exists(collection, id string) bool {
	if validID(id) != nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err := os.Stat(filepath.Join(s.basePath, collection, id+ext))
	return err == nil
}

// SaveDir stores a document under a record, e.g. the submissions of a session
func (s *Store) SaveDir(collection, id, subdir, name string, data any) error {
	if err := validID(id); err != nil {
		return err
	}
	if err := validID(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(filepath.Join(s.basePath, collection, id, subdir), name, data)
}

// LoadDir reads a document stored with SaveDir
func (s *Store) LoadDir(collection, id, subdir, name string, data any) error {
	if err := validID(id); err != nil {
		return err
	}
	if err := validID(name); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return readJSON(filepath.Join(s.basePath, collection, id, subdir, name+ext), data)
}

// ListDir lists the documents stored under a record, sorted
func (s *Store) ListDir(collection, id, subdir string) ([]string, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listJSON(filepath.Join(s.basePath, collection, id, subdir))
}

func writeJSON(dir, name string, data any) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create collection directory: %w", err)
	}

	buf, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+name+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(buf, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, name+ext)); err != nil {
		return fmt.Errorf("replace file: %w", err)
	}
	return nil
}

func readJSON(path string, data any) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("read file: %w", err)
	}
	if err := json.Unmarshal(buf, data); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}

func listJSON(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read directory: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ext {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ext))
	}
	sort.Strings(ids)
	return ids, nil
}

func validID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}
