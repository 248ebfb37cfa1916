package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/cuemby/stash/pkg/types"
)

// azureContainer is the set of container operations the backend needs.
// Errors are returned as the SDK produces them.
type azureContainer interface {
	Properties(ctx context.Context, name string) (ObjectInfo, error)
	ListFlat(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Download(ctx context.Context, name string) (io.ReadCloser, error)
	Upload(ctx context.Context, name string, r io.Reader) error
	DeleteBlob(ctx context.Context, name string) error
}

type realAzureContainer struct {
	client    *azblob.Client
	container string
}

func (r *realAzureContainer) Properties(ctx context.Context, name string) (ObjectInfo, error) {
	props, err := r.client.ServiceClient().
		NewContainerClient(r.container).
		NewBlobClient(name).
		GetProperties(ctx, nil)
	if err != nil {
		return ObjectInfo{}, err
	}
	info := ObjectInfo{Key: name}
	if props.ContentLength != nil {
		info.Size = *props.ContentLength
	}
	if props.LastModified != nil {
		info.ModTime = *props.LastModified
	}
	return info, nil
}

func (r *realAzureContainer) ListFlat(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	pager := r.client.NewListBlobsFlatPager(r.container, &azblob.ListBlobsFlatOptions{
		Prefix: &prefix,
	})

	var objects []ObjectInfo
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		if page.Segment == nil {
			continue
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			info := ObjectInfo{Key: *item.Name}
			if p := item.Properties; p != nil {
				if p.ContentLength != nil {
					info.Size = *p.ContentLength
				}
				if p.LastModified != nil {
					info.ModTime = *p.LastModified
				}
			}
			objects = append(objects, info)
		}
	}
	return objects, nil
}

func (r *realAzureContainer) Download(ctx context.Context, name string) (io.ReadCloser, error) {
	resp, err := r.client.DownloadStream(ctx, r.container, name, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (r *realAzureContainer) Upload(ctx context.Context, name string, rd io.Reader) error {
	_, err := r.client.UploadStream(ctx, r.container, name, rd, nil)
	return err
}

func (r *realAzureContainer) DeleteBlob(ctx context.Context, name string) error {
	_, err := r.client.DeleteBlob(ctx, r.container, name, nil)
	return err
}

// AzureBackend stores objects as block blobs in one Azure Storage container
type AzureBackend struct {
	container azureContainer
	url       string
	name      string
	prefix    string
}

// NewAzureBackend creates a blob client from descriptor options: container
// (required), prefix, and one of connection_string, account_name with
// account_key, or an account_url carrying a SAS token.
func NewAzureBackend(_ context.Context, desc types.BackendDescriptor) (*AzureBackend, error) {
	container := desc.Option("container", "")
	if container == "" {
		return nil, configErr("", "azure backend requires a container")
	}

	var (
		client *azblob.Client
		err    error
	)
	accountURL := desc.Option("account_url", "")
	switch {
	case desc.Option("connection_string", "") != "":
		client, err = azblob.NewClientFromConnectionString(desc.Option("connection_string", ""), nil)
	case desc.Option("account_name", "") != "" && desc.Option("account_key", "") != "":
		name := desc.Option("account_name", "")
		if accountURL == "" {
			accountURL = "https://" + name + ".blob.core.windows.net/"
		}
		var cred *azblob.SharedKeyCredential
		cred, err = azblob.NewSharedKeyCredential(name, desc.Option("account_key", ""))
		if err == nil {
			client, err = azblob.NewClientWithSharedKeyCredential(accountURL, cred, nil)
		}
	case accountURL != "":
		client, err = azblob.NewClientWithNoCredential(accountURL, nil)
	default:
		return nil, configErr("", "azure backend requires connection_string, account_name/account_key or account_url")
	}
	if err != nil {
		return nil, configErr("", "azure client: %v", err)
	}

	return newAzureBackendWithContainer(
		&realAzureContainer{client: client, container: container},
		strings.TrimSuffix(client.URL(), "/"),
		container,
		desc.Option("prefix", ""),
	), nil
}

func newAzureBackendWithContainer(c azureContainer, url, name, prefix string) *AzureBackend {
	return &AzureBackend{
		container: c,
		url:       url,
		name:      name,
		prefix:    strings.Trim(prefix, "/"),
	}
}

func newAzureDriver(ctx context.Context, desc types.BackendDescriptor) (Backend, error) {
	return NewAzureBackend(ctx, desc)
}

func (a *AzureBackend) Name() string { return types.BackendAzure }

func (a *AzureBackend) blobName(key string) string {
	if a.prefix == "" {
		return key
	}
	return path.Join(a.prefix, key)
}

func (a *AzureBackend) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	info, err := a.container.Properties(ctx, a.blobName(key))
	if err != nil {
		return ObjectInfo{}, a.classify("stat", key, err)
	}
	info.Key = key
	return info, nil
}

func (a *AzureBackend) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	full := a.blobName(prefix)
	if strings.HasSuffix(prefix, "/") && !strings.HasSuffix(full, "/") {
		full += "/"
	}
	objects, err := a.container.ListFlat(ctx, full)
	if err != nil {
		return nil, unavailable(types.BackendAzure, "list "+prefix, err)
	}
	if a.prefix != "" {
		for i := range objects {
			objects[i].Key = strings.TrimPrefix(objects[i].Key, a.prefix+"/")
		}
	}
	return objects, nil
}

func (a *AzureBackend) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	body, err := a.container.Download(ctx, a.blobName(key))
	if err != nil {
		return nil, a.classify("download", key, err)
	}
	return body, nil
}

// Put uploads a block blob. Blocks are staged and committed in a single
// list operation, so readers never observe a partial blob.
func (a *AzureBackend) Put(ctx context.Context, key string, r io.Reader) error {
	if err := a.container.Upload(ctx, a.blobName(key), r); err != nil {
		return unavailable(types.BackendAzure, "upload "+key, err)
	}
	return nil
}

func (a *AzureBackend) Delete(ctx context.Context, key string) error {
	err := a.container.DeleteBlob(ctx, a.blobName(key))
	if err == nil {
		return nil
	}
	if err := a.classify("delete", key, err); errors.Is(err, ErrNotExist) {
		return nil
	}
	return unavailable(types.BackendAzure, "delete "+key, err)
}

func (a *AzureBackend) URI(key string) string {
	return a.url + "/" + a.name + "/" + a.blobName(key)
}

func (a *AzureBackend) Close() error { return nil }

func (a *AzureBackend) classify(op, key string, err error) error {
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return notExist(key)
	}
	var re *azcore.ResponseError
	if errors.As(err, &re) && re.StatusCode == http.StatusNotFound {
		return notExist(key)
	}
	return unavailable(types.BackendAzure, op+" "+key, err)
}
