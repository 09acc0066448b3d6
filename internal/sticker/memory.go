package sticker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. Safe for concurrent use; writes for
// the same file id serialize on the store mutex.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

// FindByFileID returns the cached entry for the file id, if present.
func (s *MemoryStore) FindByFileID(_ context.Context, fileID string) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[strings.TrimSpace(fileID)]
	return entry, ok, nil
}

// Insert stores the entry unless the file id is already cached.
func (s *MemoryStore) Insert(_ context.Context, entry Entry) error {
	fileID := strings.TrimSpace(entry.FileID)
	if fileID == "" {
		return fmt.Errorf("sticker file id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[fileID]; exists {
		return nil
	}
	entry.FileID = fileID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.entries[fileID] = entry
	return nil
}

// Len returns the number of cached entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
