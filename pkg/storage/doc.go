/*
Package storage provides per-tenant, per-module file storage over pluggable
backends.

A Handle addresses the files of one tenant module. Keys on the backend are
laid out as <tenant>/<module>/<domain>/<path>; the empty domain addresses the
module root itself. Handles are stateless views and carry no ownership of the
backend client they use.

# Backends

	disc    local filesystem, atomic writes via temp file and rename
	memory  in-process map, optionally versioned (append-only)
	s3      Amazon S3 or any S3-compatible store (aws-sdk-go-v2)
	gcs     Google Cloud Storage
	azure   Azure Blob Storage

# Factory

The Factory resolves the backend a tenant is configured for, or one named
explicitly by a migration. Backend clients are pooled in an LRU keyed by the
descriptor fingerprint:

	factory := storage.NewFactory(cfg.Modules, tenants, cfg.DefaultBackend)
	defer factory.Close()

	h, err := factory.GetStorage(ctx, "acme", "files")
	uri, err := h.Save(ctx, "room", "notes/a.txt", strings.NewReader("hi"))

Errors wrap ErrConfiguration for problems retrying cannot fix, and
ErrBackendUnavailable for transient backend faults.
*/
package storage
