package fs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(fsys FileSystem, path string, data []byte) error {
	f, err := fsys.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func TestLocalFS(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "assets")
	lfs := LocalFS{}

	require.NoError(t, lfs.MkdirAll(dir, 0o755))

	path := filepath.Join(dir, "walk.kma")
	require.NoError(t, writeFile(lfs, path, []byte("hello")))

	renamed := filepath.Join(dir, "run.kma")
	require.NoError(t, lfs.Rename(path, renamed))
	data, err := os.ReadFile(renamed)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	require.NoError(t, lfs.Remove(renamed))
	_, err = os.Stat(renamed)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestFaultyFS(t *testing.T) {
	dir := t.TempDir()

	t.Run("FailAfterBytes", func(t *testing.T) {
		ffs := NewFaultyFS(nil)
		ffs.AddRule("short", Fault{FailAfterBytes: 3})

		err := writeFile(ffs, filepath.Join(dir, "short.bin"), []byte("hello"))
		assert.ErrorIs(t, err, ErrInjected)
		assert.Zero(t, ffs.Written())

		require.NoError(t, writeFile(ffs, filepath.Join(dir, "long.bin"), []byte("hello")))
		assert.Equal(t, int64(5), ffs.Written())
	})

	t.Run("FailOnSync", func(t *testing.T) {
		custom := errors.New("disk gone")
		ffs := NewFaultyFS(nil)
		ffs.AddRule("sync", Fault{FailAfterBytes: -1, FailOnSync: true, Err: custom})
		assert.ErrorIs(t, writeFile(ffs, filepath.Join(dir, "sync.bin"), []byte("x")), custom)
	})

	t.Run("FailOnClose", func(t *testing.T) {
		ffs := NewFaultyFS(nil)
		ffs.AddRule("close", Fault{FailAfterBytes: -1, FailOnClose: true})
		assert.ErrorIs(t, writeFile(ffs, filepath.Join(dir, "close.bin"), []byte("x")), ErrInjected)
	})

	t.Run("FailOnRename", func(t *testing.T) {
		ffs := NewFaultyFS(nil)
		ffs.AddRule("move", Fault{FailAfterBytes: -1, FailOnRename: true})

		src := filepath.Join(dir, "move.bin")
		require.NoError(t, writeFile(ffs, src, []byte("x")))
		assert.ErrorIs(t, ffs.Rename(src, filepath.Join(dir, "moved.bin")), ErrInjected)

		require.NoError(t, ffs.Remove(src))
		assert.Equal(t, []string{src}, ffs.Removed())
	})
}
