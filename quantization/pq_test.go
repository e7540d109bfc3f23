package quantization

import (
	"context"
	"encoding/binary"
	"math"
	"testing"

	"github.com/hupe1980/kinematch/internal/rng"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceSource struct {
	dim  int
	data []float32
}

func newSliceSource(dim int, vecs ...[]float32) *sliceSource {
	s := &sliceSource{dim: dim}
	for _, v := range vecs {
		s.data = append(s.data, v...)
	}
	return s
}

func (s *sliceSource) NumFragments() int { return len(s.data) / s.dim }

func (s *sliceSource) FragmentFeatures(i int) []float32 {
	return s.data[i*s.dim : (i+1)*s.dim]
}

func trainedPQ(t *testing.T, src FeatureSource, dim, m, numBits int, settings TrainingSettings) *ProductQuantizer {
	t.Helper()
	pq, err := NewProductQuantizer(dim, m, numBits)
	require.NoError(t, err)

	session, err := pq.ScheduleTraining(src, settings)
	require.NoError(t, err)
	require.NoError(t, session.ForceComplete(context.Background()))
	require.True(t, pq.IsTrained())
	return pq
}

func TestNewProductQuantizer(t *testing.T) {
	t.Run("IndivisibleDimension", func(t *testing.T) {
		_, err := NewProductQuantizer(10, 3, 8)
		var target *ErrInvalidSubQuantizers
		require.ErrorAs(t, err, &target)
		assert.Equal(t, 10, target.Dimension)
		assert.Equal(t, 3, target.SubQuantizers)
	})

	t.Run("InvalidNumBits", func(t *testing.T) {
		for _, bits := range []int{0, 17} {
			_, err := NewProductQuantizer(8, 2, bits)
			var target *ErrInvalidNumBits
			require.ErrorAs(t, err, &target)
		}
	})

	t.Run("Shape", func(t *testing.T) {
		pq, err := NewProductQuantizer(12, 4, 8)
		require.NoError(t, err)
		assert.Equal(t, 3, pq.SubvectorDim())
		assert.Equal(t, 256, pq.NumCentroids())
		assert.Equal(t, 4, pq.CodeSize())
		assert.Len(t, pq.Centroids(), 12*256)
		assert.InDelta(t, 12.0, pq.CompressionRatio(), 1e-9)

		pq, err = NewProductQuantizer(12, 4, 10)
		require.NoError(t, err)
		assert.Equal(t, 2, pq.BytesPerIndex())
		assert.Equal(t, 8, pq.CodeSize())
		assert.Len(t, pq.Centroids(), 12*1024)
	})
}

func TestProductQuantizer_NotTrained(t *testing.T) {
	pq, err := NewProductQuantizer(4, 2, 2)
	require.NoError(t, err)

	code := make([]byte, pq.CodeSize())
	assert.ErrorIs(t, pq.ComputeCode([]float32{1, 2, 3, 4}, code), ErrNotTrained)
	assert.ErrorIs(t, pq.Decode(code, make([]float32, 4)), ErrNotTrained)
	_, err = pq.BuildDistanceTable([]float32{1, 2, 3, 4})
	assert.ErrorIs(t, err, ErrNotTrained)
	_, err = pq.MarshalBinary()
	assert.ErrorIs(t, err, ErrNotTrained)
}

func TestProductQuantizer_TwoClusters(t *testing.T) {
	// Two well-separated clusters per sub-vector half.
	src := newSliceSource(4,
		[]float32{0, 0, 5, 5},
		[]float32{0, 0, 5, 5},
		[]float32{0, 0, 5, 5},
		[]float32{0, 0, 5, 5},
		[]float32{10, 10, -5, -5},
		[]float32{10, 10, -5, -5},
		[]float32{10, 10, -5, -5},
		[]float32{10, 10, -5, -5},
	)
	pq := trainedPQ(t, src, 4, 2, 2, DefaultTrainingSettings())
	require.Equal(t, 4, pq.NumCentroids())

	codes := make([]byte, src.NumFragments()*pq.CodeSize())
	require.NoError(t, pq.ComputeCodes(context.Background(), src, codes))

	for m := 0; m < 2; m++ {
		first := codes[m]
		second := codes[4*pq.CodeSize()+m]
		assert.NotEqual(t, first, second, "subquantizer %d", m)
		for i := 0; i < 4; i++ {
			assert.Equal(t, first, codes[i*pq.CodeSize()+m])
			assert.Equal(t, second, codes[(i+4)*pq.CodeSize()+m])
		}
	}

	out := make([]float32, 4)
	require.NoError(t, pq.Decode(codes[:pq.CodeSize()], out))
	assert.InDeltaSlice(t, []float32{0, 0, 5, 5}, out, 1e-6)
}

func TestProductQuantizer_ReconstructionBound(t *testing.T) {
	gen := rng.New(11, 1)
	values := []float32{-3, -1, 0, 2, 7}

	// Sub-vectors come from a set of at most 25 distinct points, which fit
	// in a 32-centroid codebook.
	makeVec := func() []float32 {
		v := make([]float32, 6)
		for i := range v {
			v[i] = values[gen.IntN(len(values))]
		}
		return v
	}
	src := &sliceSource{dim: 6}
	for range 200 {
		src.data = append(src.data, makeVec()...)
	}

	settings := DefaultTrainingSettings()
	settings.MinimumNumberSamples = 1
	pq := trainedPQ(t, src, 6, 3, 5, settings)

	var worst float32
	for i := 0; i < src.NumFragments(); i++ {
		e, err := pq.ReconstructionError(src.FragmentFeatures(i))
		require.NoError(t, err)
		worst = max(worst, e)
	}

	for range 50 {
		e, err := pq.ReconstructionError(makeVec())
		require.NoError(t, err)
		assert.LessOrEqual(t, e, worst)
	}
}

func TestProductQuantizer_CodeLayoutWideIndices(t *testing.T) {
	pq, err := NewProductQuantizer(2, 2, 12)
	require.NoError(t, err)

	centroids := make([]float32, len(pq.Centroids()))
	for m := 0; m < 2; m++ {
		for j := 0; j < pq.NumCentroids(); j++ {
			centroids[m*pq.NumCentroids()+j] = float32(j)
		}
	}
	require.NoError(t, pq.SetCentroids(centroids))

	code := make([]byte, pq.CodeSize())
	require.NoError(t, pq.ComputeCode([]float32{0x321, 0x0ab}, code))
	assert.Equal(t, []byte{0x03, 0x21, 0x00, 0xab}, code)
	assert.Equal(t, 0x321, pq.Index(code, 0))
	assert.Equal(t, 0x0ab, pq.Index(code, 1))
}

func TestProductQuantizer_TiesResolveToLowestIndex(t *testing.T) {
	pq, err := NewProductQuantizer(1, 1, 2)
	require.NoError(t, err)
	require.NoError(t, pq.SetCentroids([]float32{5, 1, 3, 1}))

	code := make([]byte, 1)
	require.NoError(t, pq.ComputeCode([]float32{2}, code))
	// 1 and 3 are equally distant; index 1 wins over 2 and 3.
	assert.Equal(t, byte(1), code[0])
}

func TestProductQuantizer_AdcMatchesDistance(t *testing.T) {
	gen := rng.New(5, 2)
	src := &sliceSource{dim: 8}
	for range 300 {
		for range 8 {
			src.data = append(src.data, gen.Float32()*4)
		}
	}
	settings := DefaultTrainingSettings()
	settings.MinimumNumberSamples = 1
	pq := trainedPQ(t, src, 8, 4, 4, settings)

	codes := make([]byte, src.NumFragments()*pq.CodeSize())
	require.NoError(t, pq.ComputeCodes(context.Background(), src, codes))

	query := src.FragmentFeatures(17)
	table, err := pq.BuildDistanceTable(query)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		code := codes[i*pq.CodeSize() : (i+1)*pq.CodeSize()]
		want, err := pq.Distance(query, code)
		require.NoError(t, err)
		assert.InDelta(t, want, pq.AdcDistance(table, code), 1e-4)
	}
}

func TestProductQuantizer_ComputeCodesErrors(t *testing.T) {
	src := newSliceSource(2, []float32{0, 0}, []float32{1, 1})
	settings := DefaultTrainingSettings()
	settings.MinimumNumberSamples = 1
	pq := trainedPQ(t, src, 2, 1, 1, settings)

	var mismatch *ErrDimensionMismatch
	assert.ErrorAs(t, pq.ComputeCodes(context.Background(), src, make([]byte, 1)), &mismatch)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, pq.ComputeCodes(ctx, src, make([]byte, 2)), context.Canceled)
}

func TestProductQuantizer_MarshalBinary(t *testing.T) {
	src := newSliceSource(4,
		[]float32{0, 1, 2, 3},
		[]float32{4, 5, 6, 7},
		[]float32{1, 1, 1, 1},
	)
	settings := DefaultTrainingSettings()
	settings.MinimumNumberSamples = 1
	pq := trainedPQ(t, src, 4, 2, 3, settings)

	data, err := pq.MarshalBinary()
	require.NoError(t, err)
	assert.Len(t, data, codebookHeaderSize+4*len(pq.Centroids()))

	loaded, err := Load(data)
	require.NoError(t, err)
	assert.True(t, loaded.IsTrained())
	assert.Equal(t, pq.Dimension(), loaded.Dimension())
	assert.Equal(t, pq.NumSubvectors(), loaded.NumSubvectors())
	assert.Equal(t, pq.NumBits(), loaded.NumBits())
	assert.Equal(t, pq.Centroids(), loaded.Centroids())

	t.Run("Corrupt", func(t *testing.T) {
		_, err := Load(data[:10])
		assert.ErrorIs(t, err, ErrInvalidCodebook)

		bad := append([]byte(nil), data...)
		bad[0] ^= 0xff
		_, err = Load(bad)
		assert.ErrorIs(t, err, ErrInvalidCodebook)

		_, err = Load(data[:len(data)-4])
		assert.ErrorIs(t, err, ErrInvalidCodebook)
	})

	t.Run("CorruptHeader", func(t *testing.T) {
		header := func(numBits uint16, dimension, m uint32) []byte {
			buf := make([]byte, codebookHeaderSize+8)
			binary.LittleEndian.PutUint32(buf[0:], codebookMagic)
			binary.LittleEndian.PutUint16(buf[4:], codebookVersion)
			binary.LittleEndian.PutUint16(buf[6:], numBits)
			binary.LittleEndian.PutUint32(buf[8:], dimension)
			binary.LittleEndian.PutUint32(buf[12:], m)
			return buf
		}

		tests := []struct {
			name string
			data []byte
		}{
			{"HugeDimension", header(16, 0xFFFFFFF0, 16)},
			{"MaxDimension", header(16, math.MaxUint32, 1)},
			{"NumBitsOutOfRange", header(200, 4, 2)},
			{"ZeroNumBits", header(0, 4, 2)},
			{"SizeMismatch", header(1, 4, 2)},
			{"IndivisibleDimension", header(1, 1, 2)},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				var loaded *ProductQuantizer
				var err error
				require.NotPanics(t, func() { loaded, err = Load(tt.data) })
				assert.ErrorIs(t, err, ErrInvalidCodebook)
				assert.Nil(t, loaded)
			})
		}
	})
}
