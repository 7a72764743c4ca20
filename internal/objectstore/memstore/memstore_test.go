package memstore

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenantsqld/tenantsqld/internal/objectstore"
)

func TestStore_PutFileGetToFileRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()
	dir := t.TempDir()

	src := filepath.Join(dir, "src.db")
	require.NoError(t, os.WriteFile(src, []byte("hello"), 0o644))
	require.NoError(t, s.PutFile(ctx, "bucket", "key", src))

	dst := filepath.Join(dir, "dst.db")
	require.NoError(t, s.GetToFile(ctx, "bucket", "key", dst))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestStore_GetMissingReturnsErrNotExist(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.Get(ctx, "bucket", "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, objectstore.ErrNotExist))

	_, err = s.Get(ctx, "missing-bucket", "key")
	require.Error(t, err)
	assert.True(t, errors.Is(err, objectstore.ErrNotExist))
}

func TestStore_DeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New()
	dir := t.TempDir()
	src := filepath.Join(dir, "src.db")
	require.NoError(t, os.WriteFile(src, []byte("data"), 0o644))
	require.NoError(t, s.PutFile(ctx, "bucket", "key", src))

	require.NoError(t, s.Delete(ctx, "bucket", "key"))
	assert.False(t, s.Has("bucket", "key"))
	// Deleting again, or a never-existed key, must not error.
	require.NoError(t, s.Delete(ctx, "bucket", "key"))
	require.NoError(t, s.Delete(ctx, "nonexistent-bucket", "key"))
}

func TestStore_BytesReturnsACopy(t *testing.T) {
	ctx := context.Background()
	s := New()
	dir := t.TempDir()
	src := filepath.Join(dir, "src.db")
	require.NoError(t, os.WriteFile(src, []byte("original"), 0o644))
	require.NoError(t, s.PutFile(ctx, "bucket", "key", src))

	data, ok := s.Bytes("bucket", "key")
	require.True(t, ok)
	data[0] = 'X'

	again, ok := s.Bytes("bucket", "key")
	require.True(t, ok)
	assert.Equal(t, "original", string(again), "mutating a returned slice must not affect the store")
}

func TestStore_GetReturnsReadCloser(t *testing.T) {
	ctx := context.Background()
	s := New()
	dir := t.TempDir()
	src := filepath.Join(dir, "src.db")
	require.NoError(t, os.WriteFile(src, []byte("stream-me"), 0o644))
	require.NoError(t, s.PutFile(ctx, "bucket", "key", src))

	rc, err := s.Get(ctx, "bucket", "key")
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "stream-me", string(data))
}
