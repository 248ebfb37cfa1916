package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/cuemby/stash/pkg/types"
)

const (
	// DefaultDiscPath is the base directory for the disc backend
	DefaultDiscPath = "/var/lib/stash/storage"

	// tempDir holds in-flight writes under the base directory. It is a
	// reserved segment, so no handle key can land in it.
	tempDir = reservedSegment
)

// DiscBackend stores objects as files under a base directory
type DiscBackend struct {
	basePath string
	tmpPath  string
}

// NewDiscBackend creates a disc backend rooted at basePath
func NewDiscBackend(basePath string) (*DiscBackend, error) {
	if basePath == "" {
		basePath = DefaultDiscPath
	}

	tmpPath := filepath.Join(basePath, tempDir)
	if err := os.MkdirAll(tmpPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &DiscBackend{
		basePath: basePath,
		tmpPath:  tmpPath,
	}, nil
}

func newDiscDriver(_ context.Context, desc types.BackendDescriptor) (Backend, error) {
	return NewDiscBackend(desc.Option("path", DefaultDiscPath))
}

func (d *DiscBackend) Name() string { return types.BackendDisc }

// GetPath returns the host path for a key
func (d *DiscBackend) GetPath(key string) string {
	return filepath.Join(d.basePath, filepath.FromSlash(key))
}

func (d *DiscBackend) Stat(_ context.Context, key string) (ObjectInfo, error) {
	fi, err := os.Stat(d.GetPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return ObjectInfo{}, notExist(key)
		}
		return ObjectInfo{}, fmt.Errorf("failed to stat %s: %w", key, err)
	}
	if fi.IsDir() {
		return ObjectInfo{}, notExist(key)
	}
	return ObjectInfo{Key: key, Size: fi.Size(), ModTime: fi.ModTime()}, nil
}

func (d *DiscBackend) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	// Walk from the deepest directory fully named by prefix
	dirPart := prefix
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		dirPart = prefix[:i]
	} else {
		dirPart = ""
	}
	root := d.GetPath(dirPart)

	var objects []ObjectInfo
	err := filepath.WalkDir(root, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir() {
			if p == d.tmpPath {
				return fs.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(d.basePath, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			return err
		}
		objects = append(objects, ObjectInfo{Key: key, Size: info.Size(), ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
	}
	return objects, nil
}

func (d *DiscBackend) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(d.GetPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notExist(key)
		}
		return nil, fmt.Errorf("failed to open %s: %w", key, err)
	}
	return f, nil
}

// Put writes to a temp file in the reserved temp directory, fsyncs it and
// renames it into place, so readers never see a partially written file.
func (d *DiscBackend) Put(ctx context.Context, key string, r io.Reader) error {
	target := d.GetPath(key)
	dir := filepath.Dir(target)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(d.tmpPath, "put-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", key, err)
	}
	tmpName := tmp.Name()
	published := false
	defer func() {
		if !published {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, contextReader{ctx: ctx, r: r}); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", key, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("failed to publish %s: %w", key, err)
	}
	published = true

	return syncDir(dir)
}

// Delete removes a file; it is not an error if it is already gone
func (d *DiscBackend) Delete(_ context.Context, key string) error {
	if err := os.Remove(d.GetPath(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// DeletePrefix removes a directory and all of its contents
func (d *DiscBackend) DeletePrefix(_ context.Context, prefix string) error {
	p := d.GetPath(strings.TrimSuffix(prefix, "/"))
	if filepath.Clean(p) == filepath.Clean(d.basePath) {
		return fmt.Errorf("%w: refusing to delete storage root", ErrPathTraversal)
	}
	if err := os.RemoveAll(p); err != nil {
		return fmt.Errorf("failed to delete directory %s: %w", prefix, err)
	}
	return nil
}

// Rename moves a file within the backend
func (d *DiscBackend) Rename(_ context.Context, from, to string) error {
	target := d.GetPath(to)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", to, err)
	}
	if err := os.Rename(d.GetPath(from), target); err != nil {
		if os.IsNotExist(err) {
			return notExist(from)
		}
		return fmt.Errorf("failed to move %s to %s: %w", from, to, err)
	}
	return nil
}

func (d *DiscBackend) URI(key string) string {
	return "file://" + filepath.ToSlash(d.GetPath(key))
}

// Close is a no-op for the disc backend
func (d *DiscBackend) Close() error {
	return nil
}

// syncDir flushes a rename to disk. Filesystems that do not support fsync on
// directories report EINVAL, which is ignored.
func syncDir(dirName string) error {
	dir, err := os.Open(dirName)
	if err != nil {
		return err
	}
	defer dir.Close()

	err = dir.Sync()
	var pe *os.PathError
	if errors.As(err, &pe) && errors.Is(pe.Err, syscall.EINVAL) {
		err = nil
	}
	return err
}

// contextReader stops a copy once ctx is done
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
