package mcpserver

import "github.com/csells/vide-cli-sub001/internal/storage"

// storageMemoryBackend adapts storage.MemoryStore (which speaks
// vide.MemoryEntry) to the MemoryBackend interface this package's tool
// handlers use, keeping mcpserver's tool layer decoupled from pkg/vide.
type storageMemoryBackend struct {
	store *storage.MemoryStore
}

// WrapMemoryStore adapts store for NewMemoryServer.
func WrapMemoryStore(store *storage.MemoryStore) MemoryBackend {
	return storageMemoryBackend{store: store}
}

func (b storageMemoryBackend) All() ([]MemoryRecord, error) {
	entries, err := b.store.All()
	if err != nil {
		return nil, err
	}
	out := make([]MemoryRecord, len(entries))
	for i, e := range entries {
		out[i] = MemoryRecord{Key: e.Key, Value: e.Value}
	}
	return out, nil
}

func (b storageMemoryBackend) Set(key, value string) error { return b.store.Set(key, value) }
func (b storageMemoryBackend) Delete(key string) error      { return b.store.Delete(key) }
