package quantization

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// encodeChunk is the number of fragments encoded per task.
const encodeChunk = 256

// ComputeCodes encodes every fragment of src into codes, which must hold
// NumFragments*CodeSize bytes. Fragments are independent and are encoded
// in parallel.
func (pq *ProductQuantizer) ComputeCodes(ctx context.Context, src FeatureSource, codes []byte) error {
	if !pq.trained {
		return ErrNotTrained
	}
	n := src.NumFragments()
	if len(codes) != n*pq.codeSize {
		return &ErrDimensionMismatch{Expected: n * pq.codeSize, Actual: len(codes)}
	}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pq.opts.Workers)

	for lo := 0; lo < n; lo += encodeChunk {
		hi := min(lo+encodeChunk, n)
		g.Go(func() error {
			if pq.opts.Limiter != nil {
				if err := pq.opts.Limiter.AcquireBackground(gctx); err != nil {
					return err
				}
				defer pq.opts.Limiter.ReleaseBackground()
			}
			for i := lo; i < hi; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				features := src.FragmentFeatures(i)
				if len(features) != pq.dimension {
					return fmt.Errorf("fragment %d: %w", i, &ErrDimensionMismatch{Expected: pq.dimension, Actual: len(features)})
				}
				pq.computeCode(features, codes[i*pq.codeSize:(i+1)*pq.codeSize])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	pq.opts.Logger.Debug("fragments encoded", "count", n, "duration", time.Since(start))
	return nil
}
