package storage

import (
	"context"
	"sync"
)

// MemoryStore is an in-process StateStore, used for local runs and tests.
type MemoryStore struct {
	blobs map[string][]byte
	mutex sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (s *MemoryStore) Get(ctx context.Context, roomID, key string) ([]byte, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	blob, ok := s.blobs[objectKey(roomID, key)]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(blob))
	copy(out, blob)
	return out, nil
}

func (s *MemoryStore) Put(ctx context.Context, roomID, key string, blob []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()

	stored := make([]byte, len(blob))
	copy(stored, blob)
	s.blobs[objectKey(roomID, key)] = stored
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, roomID, key string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	delete(s.blobs, objectKey(roomID, key))
	return nil
}
