package asset

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the block compression of an encoded asset.
type Compression uint8

const (
	// CompressionNone stores blocks verbatim.
	CompressionNone Compression = 0
	// CompressionLZ4 favors load speed.
	CompressionLZ4 Compression = 1
	// CompressionZSTD favors size.
	CompressionZSTD Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("Compression(%d)", uint8(c))
	}
}

// ParseCompression parses "none", "lz4" or "zstd" (case-insensitive).
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZSTD, nil
	default:
		return CompressionNone, fmt.Errorf("asset: unknown compression %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c Compression) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Compression) UnmarshalText(text []byte) error {
	v, err := ParseCompression(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

func (c Compression) valid() bool { return c <= CompressionZSTD }

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func putZstdEncoder(enc *zstd.Encoder) {
	zstdEncoderPool.Put(enc)
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

func putZstdDecoder(dec *zstd.Decoder) {
	zstdDecoderPool.Put(dec)
}

// Block format: [uncompressed uint32][compressed uint32][data...].
// A compressed size of 0 marks a block stored verbatim. No block holds
// more than maxBlockSize uncompressed bytes.
const (
	blockHeaderSize  = 8
	defaultBlockSize = 256 * 1024
	maxBlockSize     = defaultBlockSize
	// maxPreallocRatio bounds the output preallocated per input byte.
	maxPreallocRatio = 16
)

var errCorruptBlock = fmt.Errorf("%w: corrupt block", ErrInvalidAsset)

// compressBlock frames data as a single block. Blocks that do not shrink
// below 90% of their size are stored verbatim.
func compressBlock(data []byte, c Compression) ([]byte, error) {
	var compressed []byte
	switch c {
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, err
		}
		compressed = buf[:n]
	case CompressionZSTD:
		enc := getZstdEncoder()
		compressed = enc.EncodeAll(data, nil)
		putZstdEncoder(enc)
	}

	if len(compressed) == 0 || float64(len(compressed)) > float64(len(data))*0.9 {
		out := make([]byte, blockHeaderSize+len(data))
		binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
		copy(out[blockHeaderSize:], data)
		return out, nil
	}

	out := make([]byte, blockHeaderSize+len(compressed))
	binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
	binary.LittleEndian.PutUint32(out[4:], uint32(len(compressed)))
	copy(out[blockHeaderSize:], compressed)
	return out, nil
}

// blockWriter splits a stream into independently compressed blocks.
type blockWriter struct {
	w           io.Writer
	compression Compression
	blockSize   int
	buffer      *bytes.Buffer
	written     int64
}

func newBlockWriter(w io.Writer, c Compression, blockSize int) *blockWriter {
	if blockSize <= 0 || blockSize > maxBlockSize {
		blockSize = defaultBlockSize
	}
	return &blockWriter{
		w:           w,
		compression: c,
		blockSize:   blockSize,
		buffer:      bytes.NewBuffer(make([]byte, 0, blockSize)),
	}
}

func (bw *blockWriter) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		space := bw.blockSize - bw.buffer.Len()
		if space <= 0 {
			if err := bw.flushBlock(); err != nil {
				return total, err
			}
			space = bw.blockSize
		}
		n, _ := bw.buffer.Write(p[:min(len(p), space)])
		total += n
		p = p[n:]
	}
	return total, nil
}

func (bw *blockWriter) flushBlock() error {
	if bw.buffer.Len() == 0 {
		return nil
	}
	block, err := compressBlock(bw.buffer.Bytes(), bw.compression)
	if err != nil {
		return err
	}
	n, err := bw.w.Write(block)
	bw.written += int64(n)
	if err != nil {
		return err
	}
	bw.buffer.Reset()
	return nil
}

// Close flushes the final partial block.
func (bw *blockWriter) Close() error { return bw.flushBlock() }

// decompressAll decodes consecutive blocks until data is exhausted. The
// output may not grow past size. size comes from an unverified header, so
// the preallocation is also capped relative to len(data).
func decompressAll(data []byte, c Compression, size int) ([]byte, error) {
	out := make([]byte, 0, max(0, min(size, maxPreallocRatio*len(data))))
	for len(data) > 0 {
		if len(data) < blockHeaderSize {
			return nil, errCorruptBlock
		}
		raw := int(binary.LittleEndian.Uint32(data[0:]))
		packed := int(binary.LittleEndian.Uint32(data[4:]))
		data = data[blockHeaderSize:]
		if raw > maxBlockSize || len(out)+raw > size {
			return nil, fmt.Errorf("%w: block of %d bytes", errCorruptBlock, raw)
		}

		if packed == 0 {
			if len(data) < raw {
				return nil, errCorruptBlock
			}
			out = append(out, data[:raw]...)
			data = data[raw:]
			continue
		}
		if len(data) < packed {
			return nil, errCorruptBlock
		}
		block, err := decompressBlock(data[:packed], raw, c)
		if err != nil {
			return nil, err
		}
		out = append(out, block...)
		data = data[packed:]
	}
	return out, nil
}

func decompressBlock(src []byte, raw int, c Compression) ([]byte, error) {
	switch c {
	case CompressionLZ4:
		dst := make([]byte, raw)
		n, err := lz4.UncompressBlock(src, dst)
		if err != nil {
			return nil, fmt.Errorf("asset: lz4: %w", err)
		}
		if n != raw {
			return nil, errCorruptBlock
		}
		return dst, nil
	case CompressionZSTD:
		dec := getZstdDecoder()
		defer putZstdDecoder(dec)
		decoded, err := dec.DecodeAll(src, make([]byte, 0, raw))
		if err != nil {
			return nil, fmt.Errorf("asset: zstd: %w", err)
		}
		if len(decoded) != raw {
			return nil, errCorruptBlock
		}
		return decoded, nil
	default:
		return nil, errCorruptBlock
	}
}
