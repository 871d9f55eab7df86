package storage

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps blobs in process memory. Used for local runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	baseURL string
	prefix  string
	objects map[string]memoryObject
	issued  map[string]struct{}
	now     func() time.Time
}

type memoryObject struct {
	data        []byte
	contentType string
}

func NewMemoryStore(baseURL, prefix string) *MemoryStore {
	return &MemoryStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		prefix:  strings.Trim(prefix, "/"),
		objects: make(map[string]memoryObject),
		issued:  make(map[string]struct{}),
		now:     time.Now,
	}
}

func (m *MemoryStore) Upload(ctx context.Context, blob []byte, contentType string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, &StorageError{Op: "upload", Err: err}
	}
	ct, err := NormalizeContentType(contentType)
	if err != nil {
		return nil, &StorageError{Op: "upload", Err: err}
	}
	if len(blob) == 0 {
		return nil, &StorageError{Op: "upload", Err: ErrEmptyObject}
	}

	key := GenerateStorageID(m.prefix, ct, m.now())
	data := make([]byte, len(blob))
	copy(data, blob)

	m.mu.Lock()
	m.objects[key] = memoryObject{data: data, contentType: ct}
	m.issued[key] = struct{}{}
	m.mu.Unlock()

	return &Object{
		URL:         m.baseURL + "/" + key,
		StorageID:   key,
		ContentType: ct,
		Size:        int64(len(data)),
	}, nil
}

func (m *MemoryStore) Delete(ctx context.Context, storageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.issued[storageID]; !ok {
		return &StorageError{Op: "delete", StorageID: storageID, Err: ErrUnknownObject}
	}
	delete(m.objects, storageID)
	return nil
}

// Get returns a copy of the stored blob
func (m *MemoryStore) Get(storageID string) ([]byte, string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[storageID]
	if !ok {
		return nil, "", false
	}
	data := make([]byte, len(obj.data))
	copy(data, obj.data)
	return data, obj.contentType, true
}

// Len returns the number of live objects
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
