package asset

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/google/uuid"
	"github.com/hupe1980/kinematch/fragment"
	"github.com/hupe1980/kinematch/internal/conv"
	"github.com/hupe1980/kinematch/internal/hash"
	"github.com/hupe1980/kinematch/quantization"
)

var (
	// ErrInvalidAsset is returned when decoding malformed or truncated data.
	ErrInvalidAsset = errors.New("asset: invalid asset")
	// ErrChecksum is returned when the payload checksum does not match.
	ErrChecksum = errors.New("asset: checksum mismatch")
	// ErrUnsupportedVersion is returned for assets written by a newer format.
	ErrUnsupportedVersion = errors.New("asset: unsupported version")
)

const (
	magic   uint32 = 0x4b4d4131 // "KMA1"
	version uint16 = 1
	// magic(4) version(2) compression(1) reserved(1) payloadLen(4) crc32c(4)
	headerSize = 16
)

// Asset is the baked, runtime-ready product of a training run: the
// codebook plus one code per fragment.
type Asset struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time

	Quantizer *quantization.ProductQuantizer
	// Codes holds CodeSize bytes per fragment, in fragment order.
	Codes []byte
	// Valid lists fragments with a usable encoding. Nil means all.
	Valid *roaring.Bitmap
	// Normalizer is the feature standardization the codes were computed
	// with. Nil means raw features.
	Normalizer *fragment.Normalizer
}

// New assembles an asset with a fresh identifier.
func New(name string, pq *quantization.ProductQuantizer, codes []byte) (*Asset, error) {
	a := &Asset{
		ID:        uuid.New(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
		Quantizer: pq,
		Codes:     codes,
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// NumFragments returns the number of encoded fragments.
func (a *Asset) NumFragments() int {
	if a.Quantizer == nil || a.Quantizer.CodeSize() == 0 {
		return 0
	}
	return len(a.Codes) / a.Quantizer.CodeSize()
}

// Validate checks the internal consistency of a.
func (a *Asset) Validate() error {
	if a.Quantizer == nil || !a.Quantizer.IsTrained() {
		return fmt.Errorf("%w: %w", ErrInvalidAsset, quantization.ErrNotTrained)
	}
	if len(a.Codes)%a.Quantizer.CodeSize() != 0 {
		return fmt.Errorf("%w: codes length %d is not a multiple of code size %d",
			ErrInvalidAsset, len(a.Codes), a.Quantizer.CodeSize())
	}
	if a.Normalizer != nil && a.Normalizer.Dim() != a.Quantizer.Dimension() {
		return fmt.Errorf("%w: normalizer width %d, codebook width %d",
			ErrInvalidAsset, a.Normalizer.Dim(), a.Quantizer.Dimension())
	}
	if a.Valid != nil && !a.Valid.IsEmpty() && int(a.Valid.Maximum()) >= a.NumFragments() {
		return fmt.Errorf("%w: valid set exceeds %d fragments", ErrInvalidAsset, a.NumFragments())
	}
	return nil
}

// Encode serializes a with the given block compression.
func (a *Asset) Encode(c Compression) ([]byte, error) {
	if !c.valid() {
		return nil, fmt.Errorf("asset: unknown compression %d", c)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	payload, err := a.payload()
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	var hdr [headerSize]byte
	binary.LittleEndian.PutUint32(hdr[0:], magic)
	binary.LittleEndian.PutUint16(hdr[4:], version)
	hdr[6] = byte(c)
	payloadLen, err := conv.IntToUint32(len(payload))
	if err != nil {
		return nil, fmt.Errorf("asset: payload: %w", err)
	}
	binary.LittleEndian.PutUint32(hdr[8:], payloadLen)
	binary.LittleEndian.PutUint32(hdr[12:], hash.CRC32C(payload))
	out.Write(hdr[:])

	bw := newBlockWriter(&out, c, 0)
	if _, err := bw.Write(payload); err != nil {
		return nil, err
	}
	if err := bw.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// Header is the fixed prefix of an encoded asset.
type Header struct {
	Version     uint16
	Compression Compression
	PayloadSize int
}

// ReadHeader parses the fixed header without decoding the payload.
func ReadHeader(data []byte) (Header, error) {
	if len(data) < headerSize || binary.LittleEndian.Uint32(data[0:]) != magic {
		return Header{}, ErrInvalidAsset
	}
	h := Header{
		Version:     binary.LittleEndian.Uint16(data[4:]),
		Compression: Compression(data[6]),
		PayloadSize: int(binary.LittleEndian.Uint32(data[8:])),
	}
	if h.Version != version {
		return Header{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	if !h.Compression.valid() {
		return Header{}, fmt.Errorf("%w: compression %d", ErrInvalidAsset, h.Compression)
	}
	return h, nil
}

// Decode parses an asset produced by Encode. optFns configure the
// restored quantizer.
func Decode(data []byte, optFns ...func(o *quantization.Options)) (*Asset, error) {
	h, err := ReadHeader(data)
	if err != nil {
		return nil, err
	}
	payload, err := decompressAll(data[headerSize:], h.Compression, h.PayloadSize)
	if err != nil {
		return nil, err
	}
	if len(payload) != h.PayloadSize {
		return nil, fmt.Errorf("%w: payload size %d, header says %d", ErrInvalidAsset, len(payload), h.PayloadSize)
	}
	if hash.CRC32C(payload) != binary.LittleEndian.Uint32(data[12:]) {
		return nil, ErrChecksum
	}
	return decodePayload(payload, optFns)
}

func (a *Asset) payload() ([]byte, error) {
	codebook, err := a.Quantizer.MarshalBinary()
	if err != nil {
		return nil, err
	}
	var valid []byte
	if a.Valid != nil {
		if valid, err = a.Valid.MarshalBinary(); err != nil {
			return nil, err
		}
	}

	var w writer
	w.bytes(a.ID[:])
	w.u64(uint64(a.CreatedAt.UnixNano()))
	w.section([]byte(a.Name))
	w.length(a.NumFragments())
	w.section(codebook)
	w.section(a.Codes)
	w.section(valid)
	if a.Normalizer == nil {
		w.u32(0)
	} else {
		w.length(a.Normalizer.Dim())
		w.floats(a.Normalizer.Mean)
		w.floats(a.Normalizer.InvStd)
	}
	if w.err != nil {
		return nil, w.err
	}
	return w.buf, nil
}

func decodePayload(data []byte, optFns []func(o *quantization.Options)) (*Asset, error) {
	r := reader{buf: data}
	a := &Asset{}

	copy(a.ID[:], r.bytes(16))
	a.CreatedAt = time.Unix(0, int64(r.u64())).UTC()
	a.Name = string(r.section())
	numFragments := r.length()
	codebook := r.section()
	codes := r.section()
	valid := r.section()
	dim := r.length()
	var mean, invStd []float32
	if dim > 0 {
		mean = r.floats(dim)
		invStd = r.floats(dim)
	}
	if r.err != nil {
		return nil, r.err
	}
	if len(r.buf) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrInvalidAsset, len(r.buf))
	}

	pq, err := quantization.Load(codebook, optFns...)
	if err != nil {
		return nil, err
	}
	a.Quantizer = pq
	a.Codes = append([]byte(nil), codes...)

	if len(valid) > 0 {
		a.Valid = roaring.New()
		if err := a.Valid.UnmarshalBinary(valid); err != nil {
			return nil, fmt.Errorf("%w: valid set: %w", ErrInvalidAsset, err)
		}
	}
	if dim > 0 {
		a.Normalizer = &fragment.Normalizer{Mean: mean, InvStd: invStd}
	}

	if a.NumFragments() != numFragments {
		return nil, fmt.Errorf("%w: %d codes, header says %d fragments", ErrInvalidAsset, a.NumFragments(), numFragments)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// writer records the first oversized length in err.
type writer struct {
	buf []byte
	err error
}

func (w *writer) bytes(b []byte) { w.buf = append(w.buf, b...) }
func (w *writer) u32(v uint32)   { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }
func (w *writer) u64(v uint64)   { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }

func (w *writer) length(n int) {
	v, err := conv.IntToUint32(n)
	if err != nil && w.err == nil {
		w.err = fmt.Errorf("asset: %w", err)
	}
	w.u32(v)
}

func (w *writer) section(b []byte) {
	w.length(len(b))
	w.bytes(b)
}

func (w *writer) floats(v []float32) {
	for _, f := range v {
		w.u32(math.Float32bits(f))
	}
}

// reader records the first short read in err; later reads return zero values.
type reader struct {
	buf []byte
	err error
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.buf) < n {
		r.err = fmt.Errorf("%w: truncated payload", ErrInvalidAsset)
		return nil
	}
	b := r.buf[:n]
	r.buf = r.buf[n:]
	return b
}

func (r *reader) u32() uint32 {
	b := r.bytes(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) u64() uint64 {
	b := r.bytes(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *reader) length() int {
	n, err := conv.Uint32ToInt(r.u32())
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("%w: %w", ErrInvalidAsset, err)
	}
	return n
}

func (r *reader) section() []byte {
	return r.bytes(r.length())
}

func (r *reader) floats(n int) []float32 {
	b := r.bytes(4 * n)
	if b == nil {
		return nil
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out
}
