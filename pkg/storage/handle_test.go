package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/cuemby/stash/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// handleBackends runs a handle test against each local backend
func handleBackends(t *testing.T) map[string]func(t *testing.T) Backend {
	return map[string]func(t *testing.T) Backend{
		"memory": func(t *testing.T) Backend {
			return NewMemoryBackend("test", false)
		},
		"disc": func(t *testing.T) Backend {
			b, err := NewDiscBackend(t.TempDir())
			require.NoError(t, err)
			return b
		},
	}
}

func newTestHandle(t *testing.T, backend Backend) Handle {
	h, err := NewHandle("acme", "files", types.BackendDescriptor{Type: backend.Name()}, backend)
	require.NoError(t, err)
	return h
}

func save(t *testing.T, h Handle, domain, p, content string) string {
	uri, err := h.Save(context.Background(), domain, p, strings.NewReader(content))
	require.NoError(t, err)
	return uri
}

func readAll(t *testing.T, h Handle, domain, p string) string {
	rc, err := h.GetReadStream(context.Background(), domain, p)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func TestNewHandle_InvalidSegments(t *testing.T) {
	b := NewMemoryBackend("test", false)

	_, err := NewHandle("", "files", types.BackendDescriptor{}, b)
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = NewHandle("acme", "a/b", types.BackendDescriptor{}, b)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestHandle_SaveAndRead(t *testing.T) {
	for name, mk := range handleBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			h := newTestHandle(t, mk(t))

			uri := save(t, h, "room", "notes/a.txt", "abcd")
			assert.Contains(t, uri, "acme/files/room/notes/a.txt")
			assert.Equal(t, "abcd", readAll(t, h, "room", "notes/a.txt"))

			size, err := h.GetFileSize(ctx, "room", "notes/a.txt")
			require.NoError(t, err)
			assert.Equal(t, int64(4), size)

			ok, err := h.IsFile(ctx, "room", "notes/a.txt")
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = h.IsFile(ctx, "room", "notes")
			require.NoError(t, err)
			assert.False(t, ok)

			ok, err = h.IsDirectory(ctx, "room", "notes")
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = h.IsDirectory(ctx, "room", "missing")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestHandle_MissingFile(t *testing.T) {
	for name, mk := range handleBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			h := newTestHandle(t, mk(t))

			_, err := h.GetReadStream(ctx, "room", "nope.txt")
			assert.ErrorIs(t, err, ErrNotExist)

			_, err = h.GetFileSize(ctx, "room", "nope.txt")
			assert.ErrorIs(t, err, ErrNotExist)

			assert.NoError(t, h.Delete(ctx, "room", "nope.txt"))
		})
	}
}

func TestHandle_RejectsTraversal(t *testing.T) {
	ctx := context.Background()
	h := newTestHandle(t, NewMemoryBackend("test", false))

	_, err := h.Save(ctx, "room", "../../other/x.txt", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrPathTraversal)

	_, err = h.GetReadStream(ctx, "..", "x.txt")
	assert.ErrorIs(t, err, ErrPathTraversal)

	_, err = h.ListFilesRelative(ctx, "room", "../", "", true)
	assert.ErrorIs(t, err, ErrPathTraversal)

	_, err = h.Save(ctx, "room", "", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestHandle_ListFilesRelative(t *testing.T) {
	for name, mk := range handleBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			h := newTestHandle(t, mk(t))

			save(t, h, "", "top.txt", "1")
			save(t, h, "room", "b.txt", "2")
			save(t, h, "room", "a.bin", "3")
			save(t, h, "room", "sub/c.txt", "4")
			save(t, h, "room", "sub/deep/d.txt", "5")

			tests := []struct {
				name      string
				domain    string
				prefix    string
				pattern   string
				recursive bool
				want      []string
			}{
				{name: "flat", domain: "room", want: []string{"a.bin", "b.txt"}},
				{name: "recursive", domain: "room", recursive: true,
					want: []string{"a.bin", "b.txt", "sub/c.txt", "sub/deep/d.txt"}},
				{name: "pattern", domain: "room", pattern: "*.txt", recursive: true,
					want: []string{"b.txt", "sub/c.txt", "sub/deep/d.txt"}},
				{name: "star dot star matches all", domain: "room", pattern: "*.*",
					want: []string{"a.bin", "b.txt"}},
				{name: "prefix", domain: "room", prefix: "sub", recursive: true,
					want: []string{"c.txt", "deep/d.txt"}},
				{name: "module root flat", domain: "", want: []string{"top.txt"}},
				{name: "module root recursive", domain: "", recursive: true,
					want: []string{"room/a.bin", "room/b.txt", "room/sub/c.txt", "room/sub/deep/d.txt", "top.txt"}},
				{name: "missing domain", domain: "mail", recursive: true, want: []string{}},
			}

			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					got, err := h.ListFilesRelative(ctx, tt.domain, tt.prefix, tt.pattern, tt.recursive)
					require.NoError(t, err)
					assert.Equal(t, tt.want, got)
				})
			}
		})
	}
}

func TestHandle_DeleteDirectory(t *testing.T) {
	for name, mk := range handleBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			h := newTestHandle(t, mk(t))

			save(t, h, "room", "keep.txt", "k")
			save(t, h, "room", "sub/a.txt", "a")
			save(t, h, "room", "sub/b/c.txt", "c")

			require.NoError(t, h.DeleteDirectory(ctx, "room", "sub"))

			files, err := h.ListFilesRelative(ctx, "room", "", "", true)
			require.NoError(t, err)
			assert.Equal(t, []string{"keep.txt"}, files)
		})
	}
}

func TestHandle_Move(t *testing.T) {
	for name, mk := range handleBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			h := newTestHandle(t, mk(t))

			save(t, h, "room", "a.txt", "payload")
			require.NoError(t, h.Move(ctx, "room", "a.txt", "archive", "2024/a.txt"))

			ok, err := h.IsFile(ctx, "room", "a.txt")
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Equal(t, "payload", readAll(t, h, "archive", "2024/a.txt"))

			err = h.Move(ctx, "room", "a.txt", "room", "b.txt")
			assert.True(t, errors.Is(err, ErrNotExist), "moving a missing file: %v", err)
		})
	}
}

func TestHandle_TenantIsolation(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend("shared", false)

	a, err := NewHandle("acme", "files", types.BackendDescriptor{}, backend)
	require.NoError(t, err)
	b, err := NewHandle("globex", "files", types.BackendDescriptor{}, backend)
	require.NoError(t, err)

	save(t, a, "room", "secret.txt", "acme only")

	files, err := b.ListFilesRelative(ctx, "", "", "", true)
	require.NoError(t, err)
	assert.Empty(t, files)

	ok, err := b.IsFile(ctx, "room", "secret.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}
