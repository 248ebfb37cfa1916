package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/stash/pkg/types"
)

// MemoryBackend keeps objects in process memory. With versioning enabled every
// Put appends a version instead of replacing the object, which models an
// append-only object store.
type MemoryBackend struct {
	name      string
	versioned bool

	mu      sync.RWMutex
	objects map[string]*memObject
}

type memObject struct {
	versions [][]byte
	modTime  time.Time
}

func (o *memObject) latest() []byte {
	return o.versions[len(o.versions)-1]
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend(name string, versioned bool) *MemoryBackend {
	return &MemoryBackend{
		name:      name,
		versioned: versioned,
		objects:   make(map[string]*memObject),
	}
}

func newMemoryDriver(_ context.Context, desc types.BackendDescriptor) (Backend, error) {
	return NewMemoryBackend(desc.Option("name", "default"), desc.Option("versioned", "false") == "true"), nil
}

func (m *MemoryBackend) Name() string { return types.BackendMemory }

func (m *MemoryBackend) Stat(_ context.Context, key string) (ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[key]
	if !ok {
		return ObjectInfo{}, notExist(key)
	}
	return ObjectInfo{Key: key, Size: int64(len(obj.latest())), ModTime: obj.modTime}, nil
}

func (m *MemoryBackend) List(_ context.Context, prefix string) ([]ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var objects []ObjectInfo
	for key, obj := range m.objects {
		if strings.HasPrefix(key, prefix) {
			objects = append(objects, ObjectInfo{Key: key, Size: int64(len(obj.latest())), ModTime: obj.modTime})
		}
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

func (m *MemoryBackend) Open(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[key]
	if !ok {
		return nil, notExist(key)
	}
	return io.NopCloser(bytes.NewReader(obj.latest())), nil
}

// Put reads r to completion before publishing, so a failed read leaves the
// previous object untouched.
func (m *MemoryBackend) Put(ctx context.Context, key string, r io.Reader) error {
	data, err := io.ReadAll(contextReader{ctx: ctx, r: r})
	if err != nil {
		return fmt.Errorf("failed to read content for %s: %w", key, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[key]
	if !ok || !m.versioned {
		m.objects[key] = &memObject{versions: [][]byte{data}, modTime: time.Now()}
		return nil
	}
	obj.versions = append(obj.versions, data)
	obj.modTime = time.Now()
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *MemoryBackend) URI(key string) string {
	return "memory://" + m.name + "/" + key
}

func (m *MemoryBackend) Close() error { return nil }

// Versions returns how many versions are stored for key
func (m *MemoryBackend) Versions(key string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if obj, ok := m.objects[key]; ok {
		return len(obj.versions)
	}
	return 0
}
