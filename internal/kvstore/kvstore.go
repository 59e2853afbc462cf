// Package kvstore implements a JSON-file-per-key persistence layer scoped by
// module namespace. Modules use it to keep small pieces of state across
// restarts without needing a database of their own.
package kvstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Store persists arbitrary JSON-serializable values under a
// (namespace, key) pair. One directory per namespace, one file per key.
type Store struct {
	mu      sync.Mutex
	baseDir string
}

// New creates a Store rooted at baseDir. A namespace's directory is created
// lazily on first use (Store, Load, Delete or ListKeys).
func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) namespaceDir(namespace string) (string, error) {
	dir := filepath.Join(s.baseDir, namespace)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create namespace directory %s: %w", namespace, err)
	}
	return dir, nil
}

func keyPath(dir, key string) string {
	return filepath.Join(dir, key+".json")
}

// Store serializes value as JSON and writes it atomically under
// (namespace, key), replacing any existing value.
func (s *Store) Store(namespace, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := s.namespaceDir(namespace)
	if err != nil {
		return err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value for %s/%s: %w", namespace, key, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file %s: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, keyPath(dir, key)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file into place for %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Load unmarshals the value stored under (namespace, key) into out. If no
// value has been stored, Load returns ErrNotFound and leaves out untouched.
func (s *Store) Load(namespace, key string, out any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := s.namespaceDir(namespace)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(keyPath(dir, key))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("read %s/%s: %w", namespace, key, err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Delete removes the value stored under (namespace, key). Deleting a key
// that does not exist is not an error.
func (s *Store) Delete(namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := s.namespaceDir(namespace)
	if err != nil {
		return err
	}

	if err := os.Remove(keyPath(dir, key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s/%s: %w", namespace, key, err)
	}
	return nil
}

// ListKeys returns the sorted set of keys currently stored under namespace.
func (s *Store) ListKeys(namespace string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := s.namespaceDir(namespace)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list namespace %s: %w", namespace, err)
	}

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, ".tmp-") || !strings.HasSuffix(name, ".json") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(keys)
	return keys, nil
}
