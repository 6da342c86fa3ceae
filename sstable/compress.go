package sstable

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
)

// Decompressor decompresses a single block's on-disk payload. uncompressedSize
// is the size recorded in the block header, used to preallocate the output
// buffer; implementations must still tolerate a mismatch by growing.
type Decompressor interface {
	Decompress(src []byte, uncompressedSize int) ([]byte, error)
	String() string
}

type noneDecompressor struct{}

func (noneDecompressor) Decompress(src []byte, _ int) ([]byte, error) { return src, nil }
func (noneDecompressor) String() string                               { return "NONE" }

type gzipDecompressor struct{}

func (gzipDecompressor) Decompress(src []byte, uncompressedSize int) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("sstable: gzip: %w", err)
	}
	defer zr.Close()
	out := make([]byte, 0, max(uncompressedSize, 0))
	buf := bytes.NewBuffer(out)
	if _, err := io.Copy(buf, zr); err != nil {
		return nil, fmt.Errorf("sstable: gzip: %w", err)
	}
	return buf.Bytes(), nil
}
func (gzipDecompressor) String() string { return "GZ" }

type snappyDecompressor struct{}

func (snappyDecompressor) Decompress(src []byte, uncompressedSize int) ([]byte, error) {
	dst := make([]byte, 0, max(uncompressedSize, 0))
	out, err := snappy.Decode(dst, src)
	if err != nil {
		return nil, fmt.Errorf("sstable: snappy: %w", err)
	}
	return out, nil
}
func (snappyDecompressor) String() string { return "SNAPPY" }

type zstdDecompressor struct{ dec *zstd.Decoder }

func newZstdDecompressor() (*zstdDecompressor, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("sstable: zstd: %w", err)
	}
	return &zstdDecompressor{dec: dec}, nil
}

func (z *zstdDecompressor) Decompress(src []byte, uncompressedSize int) ([]byte, error) {
	dst := make([]byte, 0, max(uncompressedSize, 0))
	out, err := z.dec.DecodeAll(src, dst)
	if err != nil {
		return nil, fmt.Errorf("sstable: zstd: %w", err)
	}
	return out, nil
}
func (z *zstdDecompressor) String() string { return "ZSTD" }

// Compressor compresses a single block's decompressed payload for on-disk storage.
type Compressor interface {
	Compress(src []byte) ([]byte, error)
	String() string
}

type noneCompressor struct{}

func (noneCompressor) Compress(src []byte) ([]byte, error) { return src, nil }
func (noneCompressor) String() string                      { return "NONE" }

type gzipCompressor struct{}

func (gzipCompressor) Compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(src); err != nil {
		return nil, fmt.Errorf("sstable: gzip: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("sstable: gzip: %w", err)
	}
	return buf.Bytes(), nil
}
func (gzipCompressor) String() string { return "GZ" }

type snappyCompressor struct{}

func (snappyCompressor) Compress(src []byte) ([]byte, error) {
	return snappy.Encode(nil, src), nil
}
func (snappyCompressor) String() string { return "SNAPPY" }

type zstdCompressor struct{ enc *zstd.Encoder }

func newZstdCompressor() (*zstdCompressor, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("sstable: zstd: %w", err)
	}
	return &zstdCompressor{enc: enc}, nil
}

func (z *zstdCompressor) Compress(src []byte) ([]byte, error) {
	return z.enc.EncodeAll(src, nil), nil
}
func (z *zstdCompressor) String() string { return "ZSTD" }

// CompressorForCodec returns the compressor for the given compression codec ordinal.
func CompressorForCodec(codec uint32) (Compressor, error) {
	switch codec {
	case CompressionNone:
		return noneCompressor{}, nil
	case CompressionGZ:
		return gzipCompressor{}, nil
	case CompressionSnappy:
		return snappyCompressor{}, nil
	case CompressionZstd:
		return newZstdCompressor()
	default:
		return nil, fmt.Errorf("sstable: unsupported compression codec %d", codec)
	}
}

// Compression codec ordinals. NONE keeps the value the teacher's format used
// so that files produced by this package and tools built against its prior
// shape stay mutually readable.
const (
	CompressionNone   = 2
	CompressionGZ     = 3
	CompressionSnappy = 4
	CompressionZstd   = 5
)

// DecompressorForCodec returns the decompressor for the given compression codec ordinal.
func DecompressorForCodec(codec uint32) (Decompressor, error) {
	switch codec {
	case CompressionNone:
		return noneDecompressor{}, nil
	case CompressionGZ:
		return gzipDecompressor{}, nil
	case CompressionSnappy:
		return snappyDecompressor{}, nil
	case CompressionZstd:
		return newZstdDecompressor()
	default:
		return nil, fmt.Errorf("sstable: unsupported compression codec %d", codec)
	}
}
