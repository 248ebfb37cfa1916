package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	gcs "cloud.google.com/go/storage"
	"github.com/cuemby/stash/pkg/types"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// gcsBucket abstracts a bucket handle so tests can run without GCS
type gcsBucket interface {
	Objects(ctx context.Context, q *gcs.Query) gcsObjectIterator
	Object(name string) gcsObject
}

type gcsObjectIterator interface {
	Next() (*gcs.ObjectAttrs, error)
}

type gcsObject interface {
	Attrs(ctx context.Context) (*gcs.ObjectAttrs, error)
	NewReader(ctx context.Context) (io.ReadCloser, error)
	NewWriter(ctx context.Context) io.WriteCloser
	Delete(ctx context.Context) error
}

type realGCSBucket struct{ bh *gcs.BucketHandle }

func (r *realGCSBucket) Objects(ctx context.Context, q *gcs.Query) gcsObjectIterator {
	return r.bh.Objects(ctx, q)
}

func (r *realGCSBucket) Object(name string) gcsObject {
	return &realGCSObject{r.bh.Object(name)}
}

type realGCSObject struct{ oh *gcs.ObjectHandle }

func (r *realGCSObject) Attrs(ctx context.Context) (*gcs.ObjectAttrs, error) {
	return r.oh.Attrs(ctx)
}

func (r *realGCSObject) NewReader(ctx context.Context) (io.ReadCloser, error) {
	return r.oh.NewReader(ctx)
}

func (r *realGCSObject) NewWriter(ctx context.Context) io.WriteCloser {
	return r.oh.NewWriter(ctx)
}

func (r *realGCSObject) Delete(ctx context.Context) error { return r.oh.Delete(ctx) }

// GCSBackend stores objects in a Google Cloud Storage bucket
type GCSBackend struct {
	client *gcs.Client
	bucket gcsBucket
	name   string
	prefix string
}

// NewGCSBackend creates a client from descriptor options: bucket (required),
// prefix, project, credentials_file, and endpoint for emulators.
func NewGCSBackend(ctx context.Context, desc types.BackendDescriptor) (*GCSBackend, error) {
	bucket := desc.Option("bucket", "")
	if bucket == "" {
		return nil, configErr("", "gcs backend requires a bucket")
	}

	var opts []option.ClientOption
	if file := desc.Option("credentials_file", ""); file != "" {
		opts = append(opts, option.WithAuthCredentialsFile(option.ServiceAccount, file))
	}
	if project := desc.Option("project", ""); project != "" {
		opts = append(opts, option.WithQuotaProject(project))
	}
	if endpoint := desc.Option("endpoint", ""); endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint), option.WithoutAuthentication())
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, unavailable(types.BackendGCS, "create client", err)
	}

	b := newGCSBackendWithBucket(&realGCSBucket{client.Bucket(bucket)}, bucket, desc.Option("prefix", ""))
	b.client = client
	return b, nil
}

func newGCSBackendWithBucket(bucket gcsBucket, name, prefix string) *GCSBackend {
	return &GCSBackend{
		bucket: bucket,
		name:   name,
		prefix: strings.Trim(prefix, "/"),
	}
}

func newGCSDriver(ctx context.Context, desc types.BackendDescriptor) (Backend, error) {
	return NewGCSBackend(ctx, desc)
}

func (g *GCSBackend) Name() string { return types.BackendGCS }

func (g *GCSBackend) objectName(key string) string {
	if g.prefix == "" {
		return key
	}
	return path.Join(g.prefix, key)
}

func (g *GCSBackend) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	attrs, err := g.bucket.Object(g.objectName(key)).Attrs(ctx)
	if err != nil {
		return ObjectInfo{}, g.classify("stat", key, err)
	}
	return ObjectInfo{Key: key, Size: attrs.Size, ModTime: attrs.Updated}, nil
}

func (g *GCSBackend) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	full := g.objectName(prefix)
	if strings.HasSuffix(prefix, "/") && !strings.HasSuffix(full, "/") {
		full += "/"
	}

	it := g.bucket.Objects(ctx, &gcs.Query{Prefix: full})
	var objects []ObjectInfo
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, unavailable(types.BackendGCS, "list "+prefix, err)
		}
		key := attrs.Name
		if g.prefix != "" {
			key = strings.TrimPrefix(key, g.prefix+"/")
		}
		objects = append(objects, ObjectInfo{Key: key, Size: attrs.Size, ModTime: attrs.Updated})
	}
	return objects, nil
}

func (g *GCSBackend) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := g.bucket.Object(g.objectName(key)).NewReader(ctx)
	if err != nil {
		return nil, g.classify("read", key, err)
	}
	return r, nil
}

// Put streams content to a GCS writer. The object only becomes visible when
// the writer closes successfully; a failed copy cancels the upload.
func (g *GCSBackend) Put(ctx context.Context, key string, r io.Reader) error {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := g.bucket.Object(g.objectName(key)).NewWriter(wctx)
	if _, err := io.Copy(w, r); err != nil {
		cancel()
		_ = w.Close()
		return fmt.Errorf("failed to write object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return unavailable(types.BackendGCS, "write "+key, err)
	}
	return nil
}

func (g *GCSBackend) Delete(ctx context.Context, key string) error {
	err := g.bucket.Object(g.objectName(key)).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return unavailable(types.BackendGCS, "delete "+key, err)
	}
	return nil
}

func (g *GCSBackend) URI(key string) string {
	return "gs://" + g.name + "/" + g.objectName(key)
}

func (g *GCSBackend) Close() error {
	if g.client == nil {
		return nil
	}
	if err := g.client.Close(); err != nil {
		return fmt.Errorf("failed to close GCS client: %w", err)
	}
	g.client = nil
	return nil
}

func (g *GCSBackend) classify(op, key string, err error) error {
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return notExist(key)
	}
	return unavailable(types.BackendGCS, op+" "+key, err)
}
