package blobstore

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockBlob struct {
	mu        sync.Mutex
	data      []byte
	reads     int
	readBytes int
}

func (m *mockBlob) Close() error { return nil }
func (m *mockBlob) Size() int64  { return int64(len(m.data)) }
func (m *mockBlob) ReadAt(_ context.Context, p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	m.readBytes += n
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
func (m *mockBlob) ReadRange(_ context.Context, off, length int64) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(m.data[off : off+length])), nil
}

type mockStore struct {
	blobs map[string]*mockBlob
	opens int
}

func (m *mockStore) Open(_ context.Context, name string) (Blob, error) {
	m.opens++
	if b, ok := m.blobs[name]; ok {
		return b, nil
	}
	return nil, ErrNotFound
}
func (m *mockStore) Put(_ context.Context, name string, data []byte) error {
	if m.blobs == nil {
		m.blobs = make(map[string]*mockBlob)
	}
	m.blobs[name] = &mockBlob{data: data}
	return nil
}
func (m *mockStore) Delete(_ context.Context, name string) error {
	delete(m.blobs, name)
	return nil
}
func (m *mockStore) List(context.Context, string) ([]string, error) { return nil, nil }

func TestCachingStore_ReadAt(t *testing.T) {
	data := make([]byte, 1024)
	for i := range data {
		data[i] = byte(i % 255)
	}

	inner := &mockStore{
		blobs: map[string]*mockBlob{
			"test": {data: data},
		},
	}

	store, err := NewCachingStore(inner, 64, 256)
	require.NoError(t, err)

	ctx := context.Background()
	blob, err := store.Open(ctx, "test")
	require.NoError(t, err)

	// Block 0 is fetched whole.
	buf := make([]byte, 100)
	n, err := blob.ReadAt(ctx, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 100, n)
	assert.Equal(t, data[:100], buf)

	mBlob := inner.blobs["test"]
	assert.Equal(t, 1, mBlob.reads)
	assert.Equal(t, 256, mBlob.readBytes)

	// Cache hit.
	n, err = blob.ReadAt(ctx, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 100, n)
	assert.Equal(t, 1, mBlob.reads)

	// Spans block 0 (cached) and block 1 (missing).
	buf2 := make([]byte, 100)
	n, err = blob.ReadAt(ctx, buf2, 200)
	require.NoError(t, err)
	assert.Equal(t, 100, n)
	assert.Equal(t, data[200:300], buf2)
	assert.Equal(t, 2, mBlob.reads)
	assert.Equal(t, 512, mBlob.readBytes)

	_, err = blob.ReadAt(ctx, buf2, 260)
	require.NoError(t, err)
	assert.Equal(t, 2, mBlob.reads)
	assert.Equal(t, 2, store.CachedBlocks())
}

func TestCachingStore_CoalescesMisses(t *testing.T) {
	data := bytes.Repeat([]byte{7}, 1000)
	inner := &mockStore{blobs: map[string]*mockBlob{"a": {data: data}}}

	store, err := NewCachingStore(inner, 64, 100)
	require.NoError(t, err)

	ctx := context.Background()
	blob, err := store.Open(ctx, "a")
	require.NoError(t, err)

	out := make([]byte, 1000)
	n, err := blob.ReadAt(ctx, out, 0)
	require.NoError(t, err)
	assert.Equal(t, 1000, n)
	assert.Equal(t, data, out)
	assert.Equal(t, 1, inner.blobs["a"].reads)
	assert.Equal(t, 10, store.CachedBlocks())
}

func TestCachingStore_SmallFile(t *testing.T) {
	data := []byte("hello")
	inner := &mockStore{
		blobs: map[string]*mockBlob{
			"small": {data: data},
		},
	}
	store, err := NewCachingStore(inner, 4, 256)
	require.NoError(t, err)

	ctx := context.Background()
	blob, err := store.Open(ctx, "small")
	require.NoError(t, err)

	buf := make([]byte, 10)
	n, err := blob.ReadAt(ctx, buf, 0)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 5, n)
	assert.Equal(t, data, buf[:n])

	_, err = blob.ReadAt(ctx, buf, 5)
	assert.ErrorIs(t, err, io.EOF)

	rc, err := blob.ReadRange(ctx, 1, 100)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "ello", string(got))
}

func TestCachingStore_PutInvalidates(t *testing.T) {
	inner := &mockStore{blobs: map[string]*mockBlob{
		"x": {data: []byte("old!")},
		"y": {data: []byte("keep")},
	}}
	store, err := NewCachingStore(inner, 16, 16)
	require.NoError(t, err)

	ctx := context.Background()
	for _, name := range []string{"x", "y"} {
		data, err := ReadAll(ctx, store, name)
		require.NoError(t, err)
		require.Len(t, data, 4)
	}
	require.Equal(t, 2, store.CachedBlocks())

	require.NoError(t, store.Put(ctx, "x", []byte("new!")))
	assert.Equal(t, 1, store.CachedBlocks())

	data, err := ReadAll(ctx, store, "x")
	require.NoError(t, err)
	assert.Equal(t, "new!", string(data))

	require.NoError(t, store.Delete(ctx, "y"))
	assert.Equal(t, 1, store.CachedBlocks())
	_, err = store.Open(ctx, "y")
	assert.ErrorIs(t, err, ErrNotFound)
}
