package storage

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/csells/vide-cli-sub001/pkg/vide"
)

// MemoryStore persists the project's MemoryEntry list to a single
// memory.json (spec §3, §6): "updates are atomic and replace matching
// key".
type MemoryStore struct {
	mu   sync.Mutex
	path string
}

// NewMemoryStore builds a store at <configRoot>/projects/<encoded>/memory.json.
func NewMemoryStore(configRoot, projectPath string) *MemoryStore {
	return &MemoryStore{
		path: filepath.Join(configRoot, "projects", EncodeProjectPath(projectPath), "memory.json"),
	}
}

type memoryDoc struct {
	Entries []vide.MemoryEntry `json:"entries"`
}

// All returns every persisted entry.
func (s *MemoryStore) All() ([]vide.MemoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var doc memoryDoc
	if _, err := readJSON(s.path, &doc); err != nil {
		return nil, err
	}
	return doc.Entries, nil
}

// Set upserts key=value, replacing the matching entry's value and
// updatedAt, or appending a new one with createdAt=now.
func (s *MemoryStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var doc memoryDoc
	if _, err := readJSON(s.path, &doc); err != nil {
		return err
	}

	now := time.Now()
	for i := range doc.Entries {
		if doc.Entries[i].Key == key {
			doc.Entries[i].Value = value
			doc.Entries[i].UpdatedAt = &now
			return writeJSONAtomic(s.path, doc)
		}
	}
	doc.Entries = append(doc.Entries, vide.MemoryEntry{Key: key, Value: value, CreatedAt: now})
	return writeJSONAtomic(s.path, doc)
}

// Delete removes the entry for key, if present.
func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var doc memoryDoc
	if _, err := readJSON(s.path, &doc); err != nil {
		return err
	}
	out := doc.Entries[:0]
	for _, e := range doc.Entries {
		if e.Key != key {
			out = append(out, e)
		}
	}
	doc.Entries = out
	return writeJSONAtomic(s.path, doc)
}
