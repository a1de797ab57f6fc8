package storage

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
)

type memoryObject struct {
	content     []byte
	contentType string
	etag        string
}

// MemoryStorage is an in-process object store.
type MemoryStorage struct {
	mu       sync.RWMutex
	objects  map[string]memoryObject
	pageSize int
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{objects: make(map[string]memoryObject), pageSize: 1000}
}

func (m *MemoryStorage) Get(ctx context.Context, key string) (*Object, error) {
	m.mu.RLock()
	obj, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return &Object{
		Body:        io.NopCloser(bytes.NewReader(obj.content)),
		Size:        int64(len(obj.content)),
		ContentType: obj.contentType,
		ETag:        obj.etag,
	}, nil
}

func (m *MemoryStorage) Put(ctx context.Context, key string, content []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memoryObject{
		content:     append([]byte(nil), content...),
		contentType: contentType,
		etag:        ContentHash(content),
	}
	return nil
}

func (m *MemoryStorage) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *MemoryStorage) DeleteMany(ctx context.Context, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.objects, k)
	}
	return nil
}

// List pages by key order; the token is the last key of the previous page.
func (m *MemoryStorage) List(ctx context.Context, prefix, token string) (ListPage, error) {
	m.mu.RLock()
	keys := make([]string, 0)
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) && k > token {
			keys = append(keys, k)
		}
	}
	m.mu.RUnlock()

	sort.Strings(keys)
	if len(keys) <= m.pageSize {
		return ListPage{Keys: keys}, nil
	}
	keys = keys[:m.pageSize]
	return ListPage{Keys: keys, NextToken: keys[len(keys)-1]}, nil
}

// Len reports the number of stored objects.
func (m *MemoryStorage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
