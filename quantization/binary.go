package quantization

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	codebookMagic   uint32 = 0x4b4d5051 // "KMPQ"
	codebookVersion uint16 = 1
	// magic(4) version(2) numBits(2) dimension(4) subquantizers(4)
	codebookHeaderSize = 16
)

// MarshalBinary encodes the trained codebook: a fixed header followed by
// the row-major [M][ksub][dsub] float32 table in little-endian order.
func (pq *ProductQuantizer) MarshalBinary() ([]byte, error) {
	if !pq.trained {
		return nil, ErrNotTrained
	}
	buf := make([]byte, codebookHeaderSize+4*len(pq.centroids))
	binary.LittleEndian.PutUint32(buf[0:], codebookMagic)
	binary.LittleEndian.PutUint16(buf[4:], codebookVersion)
	binary.LittleEndian.PutUint16(buf[6:], uint16(pq.numBits))
	binary.LittleEndian.PutUint32(buf[8:], uint32(pq.dimension))
	binary.LittleEndian.PutUint32(buf[12:], uint32(pq.numSubvectors))

	off := codebookHeaderSize
	for _, v := range pq.centroids {
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(v))
		off += 4
	}
	return buf, nil
}

// UnmarshalBinary decodes a codebook produced by MarshalBinary into pq,
// replacing its shape.
func (pq *ProductQuantizer) UnmarshalBinary(data []byte) error {
	if len(data) < codebookHeaderSize {
		return fmt.Errorf("%w: short header", ErrInvalidCodebook)
	}
	if binary.LittleEndian.Uint32(data[0:]) != codebookMagic {
		return fmt.Errorf("%w: bad magic", ErrInvalidCodebook)
	}
	if v := binary.LittleEndian.Uint16(data[4:]); v != codebookVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrInvalidCodebook, v)
	}
	numBits := int(binary.LittleEndian.Uint16(data[6:]))
	dim32 := binary.LittleEndian.Uint32(data[8:])
	m := int(binary.LittleEndian.Uint32(data[12:]))

	if numBits < MinNumBits || numBits > MaxNumBits {
		return fmt.Errorf("%w: %w", ErrInvalidCodebook, &ErrInvalidNumBits{NumBits: numBits})
	}
	// The table size must match before anything is allocated. dimension
	// fits in 32 bits and numBits is at most 16, so this cannot overflow.
	if want := uint64(codebookHeaderSize) + 4*uint64(dim32)<<numBits; uint64(len(data)) != want {
		return fmt.Errorf("%w: header describes %d bytes, got %d", ErrInvalidCodebook, want, len(data))
	}
	dimension := int(dim32)

	opts := pq.opts
	fresh, err := NewProductQuantizer(dimension, m, numBits, func(o *Options) { *o = opts })
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCodebook, err)
	}

	off := codebookHeaderSize
	for i := range fresh.centroids {
		fresh.centroids[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
		off += 4
	}
	pq.dimension = fresh.dimension
	pq.numSubvectors = fresh.numSubvectors
	pq.subvectorDim = fresh.subvectorDim
	pq.numBits = fresh.numBits
	pq.numCentroids = fresh.numCentroids
	pq.bytesPerIndex = fresh.bytesPerIndex
	pq.codeSize = fresh.codeSize
	pq.centroids = fresh.centroids
	pq.trained = true
	pq.opts = fresh.opts
	return nil
}

// Load decodes a codebook into a new ProductQuantizer.
func Load(data []byte, optFns ...func(o *Options)) (*ProductQuantizer, error) {
	pq := &ProductQuantizer{}
	for _, fn := range optFns {
		fn(&pq.opts)
	}
	if err := pq.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return pq, nil
}
