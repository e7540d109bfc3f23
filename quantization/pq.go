package quantization

import (
	"context"
	"log/slog"
	"math"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/hupe1980/kinematch/distance"
)

const (
	// MinNumBits is the smallest supported bit depth per sub-quantizer index.
	MinNumBits = 1
	// MaxNumBits is the largest supported bit depth per sub-quantizer index.
	MaxNumBits = 16
	// DefaultNumBits yields 256 centroids per sub-quantizer and one byte per index.
	DefaultNumBits = 8
)

// FeatureSource exposes a read-only set of fixed-width feature vectors.
type FeatureSource interface {
	// NumFragments returns the number of vectors.
	NumFragments() int
	// FragmentFeatures returns the contiguous features of fragment i.
	FragmentFeatures(i int) []float32
}

// Options configures a ProductQuantizer.
type Options struct {
	// Workers bounds the goroutines used for training and bulk encoding.
	// Zero uses GOMAXPROCS.
	Workers int
	// BatchSize is the number of k-means stages advanced per FrameUpdate.
	BatchSize int
	// FrameBudget bounds the time one FrameUpdate spends per sub-quantizer.
	// Zero runs whole batches.
	FrameBudget time.Duration
	// Limiter optionally bounds worker slots across quantizers.
	Limiter WorkerLimiter
	Logger  *slog.Logger
}

// WorkerLimiter reserves background worker slots.
type WorkerLimiter interface {
	AcquireBackground(ctx context.Context) error
	ReleaseBackground()
}

// ProductQuantizer implements product quantization with a flat
// [M][ksub][dsub] float32 codebook.
type ProductQuantizer struct {
	dimension     int // d
	numSubvectors int // M
	subvectorDim  int // dsub = d/M
	numBits       int
	numCentroids  int // ksub = 2^numBits
	bytesPerIndex int
	codeSize      int

	centroids []float32
	trained   bool
	training  atomic.Bool

	opts Options
}

// NewProductQuantizer creates an untrained quantizer.
// The dimension must be divisible by numSubvectors.
func NewProductQuantizer(dimension, numSubvectors, numBits int, optFns ...func(o *Options)) (*ProductQuantizer, error) {
	if dimension <= 0 || numSubvectors <= 0 || dimension%numSubvectors != 0 {
		return nil, &ErrInvalidSubQuantizers{Dimension: dimension, SubQuantizers: numSubvectors}
	}
	if numBits < MinNumBits || numBits > MaxNumBits {
		return nil, &ErrInvalidNumBits{NumBits: numBits}
	}

	opts := Options{BatchSize: 1}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	numCentroids := 1 << numBits
	bytesPerIndex := (numBits + 7) / 8

	return &ProductQuantizer{
		dimension:     dimension,
		numSubvectors: numSubvectors,
		subvectorDim:  dimension / numSubvectors,
		numBits:       numBits,
		numCentroids:  numCentroids,
		bytesPerIndex: bytesPerIndex,
		codeSize:      numSubvectors * bytesPerIndex,
		centroids:     make([]float32, dimension*numCentroids),
		opts:          opts,
	}, nil
}

// Dimension returns d.
func (pq *ProductQuantizer) Dimension() int { return pq.dimension }

// NumSubvectors returns M.
func (pq *ProductQuantizer) NumSubvectors() int { return pq.numSubvectors }

// SubvectorDim returns dsub.
func (pq *ProductQuantizer) SubvectorDim() int { return pq.subvectorDim }

// NumBits returns the bit depth per index.
func (pq *ProductQuantizer) NumBits() int { return pq.numBits }

// NumCentroids returns ksub.
func (pq *ProductQuantizer) NumCentroids() int { return pq.numCentroids }

// BytesPerIndex returns the bytes used by a single sub-quantizer index.
func (pq *ProductQuantizer) BytesPerIndex() int { return pq.bytesPerIndex }

// CodeSize returns the byte length of a code.
func (pq *ProductQuantizer) CodeSize() int { return pq.codeSize }

// IsTrained reports whether the codebook holds trained centroids.
func (pq *ProductQuantizer) IsTrained() bool { return pq.trained }

// Centroids returns the flat codebook (d*ksub floats, row-major [M][ksub][dsub]).
// The slice must not be modified.
func (pq *ProductQuantizer) Centroids() []float32 { return pq.centroids }

// SubCentroids returns the codebook of sub-quantizer m (ksub*dsub floats).
func (pq *ProductQuantizer) SubCentroids(m int) []float32 {
	size := pq.numCentroids * pq.subvectorDim
	return pq.centroids[m*size : (m+1)*size]
}

// SetCentroids installs a codebook, e.g. one loaded from an asset.
func (pq *ProductQuantizer) SetCentroids(centroids []float32) error {
	if len(centroids) != len(pq.centroids) {
		return &ErrDimensionMismatch{Expected: len(pq.centroids), Actual: len(centroids)}
	}
	copy(pq.centroids, centroids)
	pq.trained = true
	return nil
}

// CompressionRatio returns the size of a float32 vector divided by the code size.
func (pq *ProductQuantizer) CompressionRatio() float64 {
	return float64(pq.dimension*4) / float64(pq.codeSize)
}

// ComputeCode encodes vec into code (CodeSize bytes). Each sub-vector is
// assigned to its nearest centroid; ties resolve to the lowest index.
func (pq *ProductQuantizer) ComputeCode(vec []float32, code []byte) error {
	if !pq.trained {
		return ErrNotTrained
	}
	if len(vec) != pq.dimension {
		return &ErrDimensionMismatch{Expected: pq.dimension, Actual: len(vec)}
	}
	if len(code) != pq.codeSize {
		return &ErrDimensionMismatch{Expected: pq.codeSize, Actual: len(code)}
	}
	pq.computeCode(vec, code)
	return nil
}

func (pq *ProductQuantizer) computeCode(vec []float32, code []byte) {
	dsub, ksub := pq.subvectorDim, pq.numCentroids
	for m := 0; m < pq.numSubvectors; m++ {
		sub := vec[m*dsub : (m+1)*dsub]
		codebook := pq.SubCentroids(m)

		best, bestDist := 0, float32(math.Inf(1))
		for j := 0; j < ksub; j++ {
			d := distance.SquaredL2(sub, codebook[j*dsub:(j+1)*dsub])
			if d < bestDist {
				best, bestDist = j, d
			}
		}
		pq.putIndex(code, m, best)
	}
}

// Index returns the centroid index stored for sub-quantizer m.
func (pq *ProductQuantizer) Index(code []byte, m int) int {
	base := m * pq.bytesPerIndex
	idx := 0
	for b := 0; b < pq.bytesPerIndex; b++ {
		idx = idx<<8 | int(code[base+b])
	}
	return idx
}

func (pq *ProductQuantizer) putIndex(code []byte, m, idx int) {
	base := m * pq.bytesPerIndex
	for b := pq.bytesPerIndex - 1; b >= 0; b-- {
		code[base+b] = byte(idx)
		idx >>= 8
	}
}

// Decode reconstructs an approximate vector from code into out.
func (pq *ProductQuantizer) Decode(code []byte, out []float32) error {
	if !pq.trained {
		return ErrNotTrained
	}
	if len(code) != pq.codeSize {
		return &ErrDimensionMismatch{Expected: pq.codeSize, Actual: len(code)}
	}
	if len(out) != pq.dimension {
		return &ErrDimensionMismatch{Expected: pq.dimension, Actual: len(out)}
	}

	dsub := pq.subvectorDim
	for m := 0; m < pq.numSubvectors; m++ {
		idx := pq.Index(code, m)
		src := pq.SubCentroids(m)[idx*dsub : (idx+1)*dsub]
		copy(out[m*dsub:(m+1)*dsub], src)
	}
	return nil
}

// Distance returns the squared asymmetric distance between a full-precision
// query and an encoded vector.
func (pq *ProductQuantizer) Distance(query []float32, code []byte) (float32, error) {
	if !pq.trained {
		return 0, ErrNotTrained
	}
	if len(query) != pq.dimension {
		return 0, &ErrDimensionMismatch{Expected: pq.dimension, Actual: len(query)}
	}
	if len(code) != pq.codeSize {
		return 0, &ErrDimensionMismatch{Expected: pq.codeSize, Actual: len(code)}
	}

	dsub := pq.subvectorDim
	var sum float32
	for m := 0; m < pq.numSubvectors; m++ {
		idx := pq.Index(code, m)
		centroid := pq.SubCentroids(m)[idx*dsub : (idx+1)*dsub]
		sum += distance.SquaredL2(query[m*dsub:(m+1)*dsub], centroid)
	}
	return sum, nil
}

// BuildDistanceTable precomputes the squared distances from a query to all
// centroids. table[m*ksub+j] is the distance of query sub-vector m to
// centroid j of sub-quantizer m.
func (pq *ProductQuantizer) BuildDistanceTable(query []float32) ([]float32, error) {
	if !pq.trained {
		return nil, ErrNotTrained
	}
	if len(query) != pq.dimension {
		return nil, &ErrDimensionMismatch{Expected: pq.dimension, Actual: len(query)}
	}

	dsub, ksub := pq.subvectorDim, pq.numCentroids
	table := make([]float32, pq.numSubvectors*ksub)
	for m := 0; m < pq.numSubvectors; m++ {
		sub := query[m*dsub : (m+1)*dsub]
		codebook := pq.SubCentroids(m)
		out := table[m*ksub : (m+1)*ksub]
		for j := range out {
			out[j] = distance.SquaredL2(sub, codebook[j*dsub:(j+1)*dsub])
		}
	}
	return table, nil
}

// AdcDistance sums the precomputed table entries selected by code.
func (pq *ProductQuantizer) AdcDistance(table []float32, code []byte) float32 {
	var sum float32
	for m := 0; m < pq.numSubvectors; m++ {
		sum += table[m*pq.numCentroids+pq.Index(code, m)]
	}
	return sum
}

// ReconstructionError returns the squared distance between vec and its
// encode/decode round trip.
func (pq *ProductQuantizer) ReconstructionError(vec []float32) (float32, error) {
	code := make([]byte, pq.codeSize)
	if err := pq.ComputeCode(vec, code); err != nil {
		return 0, err
	}
	return pq.Distance(vec, code)
}
