package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/cuemby/stash/pkg/log"
	"github.com/cuemby/stash/pkg/metrics"
	"github.com/cuemby/stash/pkg/storage"
	"github.com/rs/zerolog"
)

// ErrTransfer marks a failed single-file copy
var ErrTransfer = errors.New("transfer failed")

// TransferError identifies the file whose copy failed and the stage it failed in
type TransferError struct {
	Domain string
	Path   string
	Stage  string // read, write or verify
	Err    error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer %s: %s: %v", displayPath(e.Domain, e.Path), e.Stage, e.Err)
}

func (e *TransferError) Is(target error) bool {
	return target == ErrTransfer
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

func displayPath(domain, p string) string {
	if domain == "" {
		return p
	}
	return domain + "/" + p
}

// Observer is called after each successful copy with the number of bytes moved
type Observer func(domain, path string, bytes int64)

// Utility copies files from one storage handle to another. It performs no
// retries; callers decide whether a failed file aborts their work.
type Utility struct {
	src      storage.Handle
	dst      storage.Handle
	observer Observer
	logger   zerolog.Logger
}

// Option configures a Utility
type Option func(*Utility)

// WithObserver registers a callback for completed copies
func WithObserver(fn Observer) Option {
	return func(u *Utility) {
		u.observer = fn
	}
}

// New creates a transfer utility from src to dst
func New(src, dst storage.Handle, opts ...Option) *Utility {
	u := &Utility{
		src: src,
		dst: dst,
		logger: log.WithComponent("transfer").With().
			Str("tenant_id", src.TenantID()).
			Str("module", src.Module()).
			Logger(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// CopyFile streams one file from the source handle to the destination. The
// destination backend publishes the file atomically, and its reported size is
// checked against the bytes read. Once started, a copy runs to completion even
// if ctx is cancelled; cancellation is for callers to observe between files.
func (u *Utility) CopyFile(ctx context.Context, srcDomain, srcPath, dstDomain, dstPath string) error {
	ioCtx := context.WithoutCancel(ctx)

	rc, err := u.src.GetReadStream(ioCtx, srcDomain, srcPath)
	if err != nil {
		return u.fail("read", srcDomain, srcPath, err)
	}
	defer rc.Close()

	cr := &countingReader{r: rc}
	if _, err := u.dst.Save(ioCtx, dstDomain, dstPath, cr); err != nil {
		if cr.err != nil {
			return u.fail("read", srcDomain, srcPath, cr.err)
		}
		return u.fail("write", srcDomain, srcPath, err)
	}

	size, err := u.dst.GetFileSize(ioCtx, dstDomain, dstPath)
	if err != nil {
		return u.fail("verify", srcDomain, srcPath, err)
	}
	if size != cr.n {
		return u.fail("verify", srcDomain, srcPath,
			fmt.Errorf("size mismatch: read %d bytes, destination has %d", cr.n, size))
	}

	metrics.TransferFilesTotal.Inc()
	metrics.TransferBytesTotal.Add(float64(cr.n))

	u.logger.Debug().
		Str("domain", srcDomain).
		Str("path", srcPath).
		Int64("bytes", cr.n).
		Msg("Copied file")

	if u.observer != nil {
		u.observer(srcDomain, srcPath, cr.n)
	}
	return nil
}

func (u *Utility) fail(stage, domain, p string, err error) error {
	metrics.TransferErrorsTotal.WithLabelValues(stage).Inc()
	u.logger.Warn().
		Err(err).
		Str("domain", domain).
		Str("path", p).
		Str("stage", stage).
		Msg("File transfer failed")
	return &TransferError{Domain: domain, Path: p, Stage: stage, Err: err}
}

// countingReader counts bytes and remembers the first read error
type countingReader struct {
	r   io.Reader
	n   int64
	err error
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	if err != nil && err != io.EOF && c.err == nil {
		c.err = err
	}
	return n, err
}
