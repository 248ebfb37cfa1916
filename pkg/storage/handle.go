package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/cuemby/stash/pkg/types"
)

// Handle is a view of one tenant module's files on one backend. All paths are
// relative to <tenant>/<module>/<domain>; the empty domain addresses the
// module root. Handles hold no state of their own and can be discarded freely.
type Handle interface {
	TenantID() string
	Module() string
	Descriptor() types.BackendDescriptor

	IsFile(ctx context.Context, domain, path string) (bool, error)
	IsDirectory(ctx context.Context, domain, path string) (bool, error)
	ListFilesRelative(ctx context.Context, domain, prefix, pattern string, recursive bool) ([]string, error)
	GetReadStream(ctx context.Context, domain, path string) (io.ReadCloser, error)
	Save(ctx context.Context, domain, path string, r io.Reader) (string, error)
	GetFileSize(ctx context.Context, domain, path string) (int64, error)
	Delete(ctx context.Context, domain, path string) error
	DeleteDirectory(ctx context.Context, domain, path string) error
	Move(ctx context.Context, srcDomain, srcPath, dstDomain, dstPath string) error
}

type handle struct {
	tenantID string
	module   string
	desc     types.BackendDescriptor
	backend  Backend
}

// NewHandle binds backend to a tenant module root
func NewHandle(tenantID, module string, desc types.BackendDescriptor, backend Backend) (Handle, error) {
	if !validSegment(tenantID) {
		return nil, configErr(module, "invalid tenant id %q", tenantID)
	}
	if !validSegment(module) {
		return nil, configErr(module, "invalid module name")
	}
	return &handle{tenantID: tenantID, module: module, desc: desc, backend: backend}, nil
}

func (h *handle) TenantID() string                    { return h.tenantID }
func (h *handle) Module() string                      { return h.module }
func (h *handle) Descriptor() types.BackendDescriptor { return h.desc }

// root returns the key prefix of a domain, without trailing slash
func (h *handle) root(domain string) (string, error) {
	if domain == "" {
		return h.tenantID + "/" + h.module, nil
	}
	if !validSegment(domain) {
		return "", fmt.Errorf("%w: domain %q", ErrPathTraversal, domain)
	}
	return h.tenantID + "/" + h.module + "/" + domain, nil
}

func (h *handle) fileKey(domain, p string) (string, error) {
	root, err := h.root(domain)
	if err != nil {
		return "", err
	}
	rel, err := cleanFile(p)
	if err != nil {
		return "", err
	}
	return root + "/" + rel, nil
}

func (h *handle) dirKey(domain, p string) (string, error) {
	root, err := h.root(domain)
	if err != nil {
		return "", err
	}
	rel, err := cleanRelative(p)
	if err != nil {
		return "", err
	}
	if rel == "" {
		return root + "/", nil
	}
	return root + "/" + rel + "/", nil
}

func (h *handle) IsFile(ctx context.Context, domain, p string) (bool, error) {
	key, err := h.fileKey(domain, p)
	if err != nil {
		return false, err
	}
	if _, err := h.backend.Stat(ctx, key); err != nil {
		if errors.Is(err, ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (h *handle) IsDirectory(ctx context.Context, domain, p string) (bool, error) {
	prefix, err := h.dirKey(domain, p)
	if err != nil {
		return false, err
	}
	objects, err := h.backend.List(ctx, prefix)
	if err != nil {
		return false, err
	}
	return len(objects) > 0, nil
}

// ListFilesRelative lists files under domain/prefix, returning paths relative
// to that directory in lexical order.
func (h *handle) ListFilesRelative(ctx context.Context, domain, prefix, pattern string, recursive bool) ([]string, error) {
	dir, err := h.dirKey(domain, prefix)
	if err != nil {
		return nil, err
	}
	objects, err := h.backend.List(ctx, dir)
	if err != nil {
		return nil, err
	}

	files := make([]string, 0, len(objects))
	for _, obj := range objects {
		rel := strings.TrimPrefix(obj.Key, dir)
		if rel == "" || rel == obj.Key {
			continue
		}
		if !recursive && strings.Contains(rel, "/") {
			continue
		}
		if !matchPattern(pattern, path.Base(rel)) {
			continue
		}
		files = append(files, rel)
	}
	sort.Strings(files)
	return files, nil
}

func (h *handle) GetReadStream(ctx context.Context, domain, p string) (io.ReadCloser, error) {
	key, err := h.fileKey(domain, p)
	if err != nil {
		return nil, err
	}
	return h.backend.Open(ctx, key)
}

// Save stores r and returns the URI of the stored file
func (h *handle) Save(ctx context.Context, domain, p string, r io.Reader) (string, error) {
	key, err := h.fileKey(domain, p)
	if err != nil {
		return "", err
	}
	if err := h.backend.Put(ctx, key, r); err != nil {
		return "", err
	}
	return h.backend.URI(key), nil
}

func (h *handle) GetFileSize(ctx context.Context, domain, p string) (int64, error) {
	key, err := h.fileKey(domain, p)
	if err != nil {
		return 0, err
	}
	info, err := h.backend.Stat(ctx, key)
	if err != nil {
		return 0, err
	}
	return info.Size, nil
}

func (h *handle) Delete(ctx context.Context, domain, p string) error {
	key, err := h.fileKey(domain, p)
	if err != nil {
		return err
	}
	return h.backend.Delete(ctx, key)
}

func (h *handle) DeleteDirectory(ctx context.Context, domain, p string) error {
	prefix, err := h.dirKey(domain, p)
	if err != nil {
		return err
	}
	if pd, ok := h.backend.(prefixDeleter); ok {
		return pd.DeletePrefix(ctx, prefix)
	}

	objects, err := h.backend.List(ctx, prefix)
	if err != nil {
		return err
	}
	for _, obj := range objects {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := h.backend.Delete(ctx, obj.Key); err != nil {
			return err
		}
	}
	return nil
}

// Move relocates a file inside this handle's module
func (h *handle) Move(ctx context.Context, srcDomain, srcPath, dstDomain, dstPath string) error {
	from, err := h.fileKey(srcDomain, srcPath)
	if err != nil {
		return err
	}
	to, err := h.fileKey(dstDomain, dstPath)
	if err != nil {
		return err
	}
	if from == to {
		return nil
	}

	if rn, ok := h.backend.(renamer); ok {
		return rn.Rename(ctx, from, to)
	}

	rc, err := h.backend.Open(ctx, from)
	if err != nil {
		return err
	}
	err = h.backend.Put(ctx, to, rc)
	rc.Close()
	if err != nil {
		return err
	}
	return h.backend.Delete(ctx, from)
}
