package memory

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/charlesng35/storefront/internal/storage"
)

// Store is an in-process storage.Store used by tests and single-node
// development setups where no object store is available.
type Store struct {
	mu      sync.RWMutex
	objects map[string]object
	writes  int
}

type object struct {
	data        []byte
	contentType string
	storedAt    time.Time
}

// New constructs an empty in-memory store.
func New() *Store {
	return &Store{objects: make(map[string]object)}
}

// Put stores the object unless the key is already present.
func (s *Store) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	s.mu.RLock()
	_, exists := s.objects[key]
	s.mu.RUnlock()
	if exists {
		return nil
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.objects[key]; exists {
		return nil
	}
	s.objects[key] = object{data: data, contentType: contentType, storedAt: time.Now()}
	s.writes++
	return nil
}

// Head returns metadata for a stored object.
func (s *Store) Head(ctx context.Context, key string) (*storage.ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, exists := s.objects[key]
	if !exists {
		return nil, storage.ErrObjectNotFound
	}

	return &storage.ObjectInfo{
		Key:          key,
		Size:         int64(len(obj.data)),
		ContentType:  obj.contentType,
		LastModified: obj.storedAt,
	}, nil
}

// Get streams a stored object.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, exists := s.objects[key]
	if !exists {
		return nil, storage.ErrObjectNotFound
	}

	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

// Delete removes an object; missing keys are ignored.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.objects, key)
	return nil
}

// Len reports how many objects are stored. Test helper.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.objects)
}

// Writes reports how many Put calls actually stored bytes. Test helper.
func (s *Store) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.writes
}
