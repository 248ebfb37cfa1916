package storage

import (
	"context"
	"io"
	"time"

	"github.com/cuemby/stash/pkg/types"
)

// ObjectInfo describes one stored object
type ObjectInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Backend is the object-store primitive a Handle is built on. Keys are
// slash-separated without a leading slash.
type Backend interface {
	// Name returns the backend type, e.g. "disc" or "s3"
	Name() string

	// Stat returns object metadata; missing objects yield an ErrNotExist error
	Stat(ctx context.Context, key string) (ObjectInfo, error)

	// List returns every object whose key starts with prefix, at any depth
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Open returns a reader for the object; the caller closes it
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Put stores the reader's content under key. Readers of key observe
	// either the previous object or the complete new one, never a partial write.
	Put(ctx context.Context, key string, r io.Reader) error

	// Delete removes the object; deleting a missing object is not an error
	Delete(ctx context.Context, key string) error

	// URI returns an addressable location for key
	URI(key string) string

	// Close releases clients held by the backend
	Close() error
}

// prefixDeleter is implemented by backends that can drop a whole prefix at once
type prefixDeleter interface {
	DeletePrefix(ctx context.Context, prefix string) error
}

// renamer is implemented by backends with a native move
type renamer interface {
	Rename(ctx context.Context, from, to string) error
}

// DriverFunc constructs a Backend for a descriptor of the driver's type
type DriverFunc func(ctx context.Context, desc types.BackendDescriptor) (Backend, error)
