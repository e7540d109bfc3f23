package asset

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hupe1980/kinematch/blobstore"
	"github.com/hupe1980/kinematch/quantization"
)

// Extension is the conventional suffix of asset blob names.
const Extension = ".kma"

// Save encodes a and writes it to store under name.
func Save(ctx context.Context, store blobstore.BlobStore, name string, a *Asset, c Compression, logger *slog.Logger) error {
	data, err := a.Encode(c)
	if err != nil {
		return err
	}
	if err := store.Put(ctx, name, data); err != nil {
		return fmt.Errorf("asset: save %s: %w", name, err)
	}
	if logger != nil {
		logger.InfoContext(ctx, "asset saved",
			slog.String("name", name),
			slog.String("id", a.ID.String()),
			slog.Int("fragments", a.NumFragments()),
			slog.String("compression", c.String()),
			slog.Int("bytes", len(data)),
		)
	}
	return nil
}

// Load reads and decodes the asset stored under name.
func Load(ctx context.Context, store blobstore.BlobStore, name string, optFns ...func(o *quantization.Options)) (*Asset, error) {
	data, err := blobstore.ReadAll(ctx, store, name)
	if err != nil {
		return nil, err
	}
	a, err := Decode(data, optFns...)
	if err != nil {
		return nil, fmt.Errorf("asset: load %s: %w", name, err)
	}
	return a, nil
}

// List returns the names of all assets in store below prefix.
func List(ctx context.Context, store blobstore.BlobStore, prefix string) ([]string, error) {
	names, err := store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := names[:0]
	for _, n := range names {
		if strings.HasSuffix(n, Extension) {
			out = append(out, n)
		}
	}
	return out, nil
}
