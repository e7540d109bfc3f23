package kinematch

import (
	"context"
	"os"

	"github.com/hupe1980/kinematch/blobstore"
	"github.com/hupe1980/kinematch/fragment"
	"github.com/hupe1980/kinematch/resource"
)

// LoadDatabase reads a YAML fragment database file. Reads are throttled by
// the IO limit of rc, which may be nil.
func LoadDatabase(ctx context.Context, path string, rc *resource.Controller) (*fragment.MemoryDatabase, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	return fragment.Decode(resource.NewRateLimitedReader(ctx, fh, rc))
}

// OpenDatabase reads a YAML fragment database stored under name.
func OpenDatabase(ctx context.Context, store blobstore.BlobStore, name string, rc *resource.Controller) (*fragment.MemoryDatabase, error) {
	blob, err := store.Open(ctx, name)
	if err != nil {
		return nil, translateError(err)
	}
	defer blob.Close()

	r, err := blob.ReadRange(ctx, 0, blob.Size())
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return fragment.Decode(resource.NewRateLimitedReader(ctx, r, rc))
}
