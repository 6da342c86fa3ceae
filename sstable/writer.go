package sstable

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// WriterOptions configures block sizing, compression, and bloom filter
// construction for a new segment file. There is no teacher analog for this
// type: the source this package was adapted from reads segment files but
// never writes them, so Writer and WriterOptions are built directly against
// the block/index/trailer/file-info primitives the reader already parses.
type WriterOptions struct {
	// BlockSize is the target uncompressed size, in bytes, of each data
	// block before a new one is started. Zero selects a default.
	BlockSize int
	// CompressionCodec is one of the Compression* constants.
	CompressionCodec uint32
	// BloomEnabled builds a row-level bloom filter from every row written.
	BloomEnabled bool
	// BloomFalsePositiveRate sizes the bloom filter; zero selects a default.
	BloomFalsePositiveRate float64
	// ComparatorClassName is recorded in the trailer for diagnostic purposes.
	ComparatorClassName string
	// IncludeTags controls whether cell tags are encoded.
	IncludeTags bool
	// MaxKeyCount estimates how many rows the bloom filter must size for.
	// A filter built too small degrades to a higher false-positive rate
	// rather than losing entries outright.
	MaxKeyCount int64
}

const defaultBlockSize = 64 * 1024
const defaultBloomFPRate = 0.01

// Writer assembles cells into a segment file one at a time. Callers must
// Append cells in ascending key order; Writer does not sort.
type Writer struct {
	w    io.Writer
	opts WriterOptions
	comp Compressor

	offset           int64
	dataIndex        []IndexEntry
	firstBlockOffset int64
	lastBlockOffset  int64
	entryCount       uint64
	totalUncompr     uint64
	avgKeyLenSum     uint64
	avgValLenSum     uint64

	minTimestamp  uint64
	maxTimestamp  uint64
	haveTimestamp bool
	lastKey       []byte
	maxSeqID      uint64

	curBlock      []byte
	curBlockStart []byte // first key written into the pending block
	curBlockCnt   int

	bloom *bloomBuilder

	closed bool
}

// NewWriter creates a Writer that streams a segment file to w as cells are
// appended. The caller is responsible for closing the underlying writer
// after Close returns.
func NewWriter(w io.Writer, opts WriterOptions) (*Writer, error) {
	if opts.BlockSize <= 0 {
		opts.BlockSize = defaultBlockSize
	}
	comp, err := CompressorForCodec(opts.CompressionCodec)
	if err != nil {
		return nil, err
	}

	var bloom *bloomBuilder
	if opts.BloomEnabled {
		rate := opts.BloomFalsePositiveRate
		if rate <= 0 {
			rate = defaultBloomFPRate
		}
		keys := opts.MaxKeyCount
		if keys <= 0 {
			keys = 1024
		}
		bloom = newBloomBuilder(keys, rate)
	}

	return &Writer{w: w, opts: opts, comp: comp, bloom: bloom}, nil
}

// Append adds a single cell to the file. Cells must arrive in the file's
// final sort order: row, family, qualifier, timestamp descending, type.
func (wr *Writer) Append(c *Cell) error {
	if wr.closed {
		return fmt.Errorf("sstable: append after close")
	}

	if !wr.haveTimestamp {
		wr.minTimestamp, wr.maxTimestamp = c.Timestamp, c.Timestamp
		wr.haveTimestamp = true
	} else {
		if c.Timestamp < wr.minTimestamp {
			wr.minTimestamp = c.Timestamp
		}
		if c.Timestamp > wr.maxTimestamp {
			wr.maxTimestamp = c.Timestamp
		}
	}

	if c.SequenceID > wr.maxSeqID {
		wr.maxSeqID = c.SequenceID
	}

	key := cellKey(c)
	encoded := encodeCell(c, wr.opts.IncludeTags)

	if wr.bloom != nil {
		wr.bloom.add(c.Row)
	}

	if wr.curBlockStart == nil {
		wr.curBlockStart = append([]byte(nil), key...)
	}
	wr.curBlock = append(wr.curBlock, encoded...)
	wr.curBlockCnt++
	wr.entryCount++
	wr.avgKeyLenSum += uint64(len(key))
	wr.avgValLenSum += uint64(len(c.Value))
	wr.lastKey = append(wr.lastKey[:0], key...)

	if len(wr.curBlock) >= wr.opts.BlockSize {
		return wr.flushDataBlock()
	}
	return nil
}

// encodeCell serializes c in the on-disk cell layout parseCell consumes:
// keyLen(4) + valLen(4) + key + value + [tagsLen(2)+tags] + memstoreTS(VInt).
func encodeCell(c *Cell, includeTags bool) []byte {
	key := cellKey(c)
	out := make([]byte, 0, 8+len(key)+len(c.Value)+16)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(key)))
	out = append(out, lenBuf[:]...)
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(c.Value)))
	out = append(out, lenBuf[:]...)
	out = append(out, key...)
	out = append(out, c.Value...)
	if includeTags {
		var tagLenBuf [2]byte
		binary.BigEndian.PutUint16(tagLenBuf[:], uint16(len(c.Tags)))
		out = append(out, tagLenBuf[:]...)
		out = append(out, c.Tags...)
	}
	out = writeVInt(out, int64(c.SequenceID))
	return out
}

func (wr *Writer) flushDataBlock() error {
	if wr.curBlockCnt == 0 {
		return nil
	}

	blockOffset := wr.offset
	if len(wr.dataIndex) == 0 {
		wr.firstBlockOffset = blockOffset
	}
	wr.lastBlockOffset = blockOffset

	n, err := wr.writeBlock(magicData, wr.curBlock)
	if err != nil {
		return err
	}
	wr.totalUncompr += uint64(len(wr.curBlock))

	wr.dataIndex = append(wr.dataIndex, IndexEntry{
		BlockOffset: blockOffset,
		DataSize:    int32(n),
		Key:         wr.curBlockStart,
	})

	wr.curBlock = wr.curBlock[:0]
	wr.curBlockStart = nil
	wr.curBlockCnt = 0
	return nil
}

// writeBlock compresses, checksums, and appends a single block to the
// stream. It returns the total on-disk size written, including the header.
func (wr *Writer) writeBlock(magic [magicLen]byte, data []byte) (int, error) {
	compressed, err := wr.comp.Compress(data)
	if err != nil {
		return 0, err
	}

	const bytesPerChecksum = 16 * 1024
	var hdr [blockHeaderSize]byte
	copy(hdr[:magicLen], magic[:])
	binary.BigEndian.PutUint32(hdr[8:12], uint32(len(compressed)+4*numChecksumChunks(len(hdr)+len(compressed), bytesPerChecksum)))
	binary.BigEndian.PutUint32(hdr[12:16], uint32(len(data)))
	binary.BigEndian.PutUint64(hdr[16:24], uint64(wr.prevOffsetForMagic(magic)))
	hdr[24] = checksumCRC32C
	binary.BigEndian.PutUint32(hdr[25:29], uint32(bytesPerChecksum))
	binary.BigEndian.PutUint32(hdr[29:33], uint32(blockHeaderSize+len(compressed)))

	checksums, err := computeChecksums(checksumCRC32C, bytesPerChecksum, hdr[:], compressed)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, chunk := range [][]byte{hdr[:], compressed, checksums} {
		nw, err := wr.w.Write(chunk)
		if err != nil {
			return 0, fmt.Errorf("sstable: write block: %w", err)
		}
		total += nw
	}
	wr.offset += int64(total)
	return total, nil
}

func numChecksumChunks(size, bytesPerChecksum int) int {
	return (size + bytesPerChecksum - 1) / bytesPerChecksum
}

func (wr *Writer) prevOffsetForMagic(magic [magicLen]byte) int64 {
	if magic == magicData && len(wr.dataIndex) > 0 {
		return wr.dataIndex[len(wr.dataIndex)-1].BlockOffset
	}
	return -1
}

// Close flushes any pending data block, writes the bloom chunk (if enabled),
// the load-on-open section, the file-info block, and the trailer, and
// finalizes the file. The Writer must not be used after Close.
func (wr *Writer) Close() error {
	if wr.closed {
		return nil
	}
	wr.closed = true

	if err := wr.flushDataBlock(); err != nil {
		return err
	}

	var bloomMeta []byte
	if wr.bloom != nil {
		meta, err := wr.writeBloom()
		if err != nil {
			return err
		}
		bloomMeta = meta
	}

	loadOnOpenOffset := wr.offset

	rootIndexData := encodeRootIndex(wr.dataIndex)
	if _, err := wr.writeBlock(magicRootIndex, rootIndexData); err != nil {
		return err
	}

	// Meta index block: always present on disk, even with zero entries.
	if _, err := wr.writeBlock(magicRootIndex, encodeRootIndex(nil)); err != nil {
		return err
	}

	fileInfoOffset := wr.offset
	fileInfo := wr.buildFileInfo()
	if _, err := wr.writeBlock(magicFileInfo, EncodeFileInfo(fileInfo)); err != nil {
		return err
	}

	if bloomMeta != nil {
		if _, err := wr.writeBlock(magicGeneralBloomMeta, bloomMeta); err != nil {
			return err
		}
	}

	trailer := &Trailer{
		MinorVersion:              0,
		FileInfoOffset:            uint64(fileInfoOffset),
		LoadOnOpenDataOffset:      uint64(loadOnOpenOffset),
		UncompressedDataIndexSize: uint64(len(rootIndexData)),
		TotalUncompressedBytes:    wr.totalUncompr,
		DataIndexCount:            uint32(len(wr.dataIndex)),
		MetaIndexCount:            0,
		EntryCount:                wr.entryCount,
		NumDataIndexLevels:        1,
		FirstDataBlockOffset:      uint64(wr.firstBlockOffset),
		LastDataBlockOffset:       uint64(wr.lastBlockOffset),
		ComparatorClassName:       wr.opts.ComparatorClassName,
		CompressionCodec:          wr.opts.CompressionCodec,
	}

	if _, err := wr.w.Write(WriteTrailer(trailer)); err != nil {
		return fmt.Errorf("sstable: write trailer: %w", err)
	}
	return nil
}

// encodeRootIndex serializes entries in the root-index physical layout
// parseRootIndex consumes: repeated [offset(8) | dataSize(4) | vint-prefixed key].
func encodeRootIndex(entries []IndexEntry) []byte {
	var out []byte
	for _, e := range entries {
		var off [8]byte
		binary.BigEndian.PutUint64(off[:], uint64(e.BlockOffset))
		out = append(out, off[:]...)
		var sz [4]byte
		binary.BigEndian.PutUint32(sz[:], uint32(e.DataSize))
		out = append(out, sz[:]...)
		out = writeByteArray(out, e.Key)
	}
	return out
}

// buildFileInfo assembles the well-known FileInfo entries this writer tracks.
func (wr *Writer) buildFileInfo() map[string][]byte {
	m := make(map[string][]byte)
	if wr.entryCount > 0 {
		m[FileInfoAvgKeyLen] = beUint32(uint32(wr.avgKeyLenSum / wr.entryCount))
		m[FileInfoAvgValueLen] = beUint32(uint32(wr.avgValLenSum / wr.entryCount))
	}
	m[FileInfoLastKey] = wr.lastKey
	m[FileInfoDataBlockEncoding] = []byte("NONE")
	m[FileInfoMaxMemstoreTS] = beUint64(wr.maxSeqID)
	if wr.haveTimestamp {
		m[FileInfoMinTimestamp] = beUint64(wr.minTimestamp)
		m[FileInfoMaxTimestamp] = beUint64(wr.maxTimestamp)
	}
	tagsLen := uint32(0)
	if wr.opts.IncludeTags {
		tagsLen = 1
	}
	m[fileInfoMaxTagsLen] = beUint32(tagsLen)
	return m
}

func beUint32(v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b[:]
}

func beUint64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

// writeBloom finalizes the accumulated row keys into a single bloom chunk
// block plus its GENERAL_BLOOM_META descriptor, mirroring the layout
// ReadBloomFilter parses.
func (wr *Writer) writeBloom() ([]byte, error) {
	chunk := wr.bloom.bits
	chunkOffset := wr.offset
	chunkSize, err := wr.writeBlock(magicBloomChunk, chunk)
	if err != nil {
		return nil, err
	}

	var meta []byte
	meta = beUint32Append(meta, 3) // bloom filter version
	meta = beUint64Append(meta, uint64(len(chunk)))
	meta = beUint32Append(meta, uint32(wr.bloom.hashCount))
	meta = beUint32Append(meta, bloomHashMurmur)
	meta = beUint64Append(meta, uint64(wr.bloom.keyCount))
	meta = beUint64Append(meta, uint64(wr.bloom.maxKeys))
	meta = beUint32Append(meta, 1) // single chunk
	meta = writeByteArray(meta, []byte(wr.opts.ComparatorClassName))
	meta = append(meta, encodeRootIndex([]IndexEntry{{
		BlockOffset: chunkOffset,
		DataSize:    int32(chunkSize),
		Key:         nil,
	}})...)
	return meta, nil
}

func beUint32Append(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func beUint64Append(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}

const bloomHashMurmur = 0

// bloomBuilder accumulates row keys and produces a single compound bloom
// filter chunk sized for an expected key count and false-positive rate.
type bloomBuilder struct {
	bits      []byte
	bitSize   int
	hashCount int
	keyCount  int64
	maxKeys   int64
}

func newBloomBuilder(maxKeys int64, falsePositiveRate float64) *bloomBuilder {
	bitSize := int(math.Ceil(-float64(maxKeys) * math.Log(falsePositiveRate) / (math.Ln2 * math.Ln2)))
	if bitSize < 64 {
		bitSize = 64
	}
	hashCount := int(math.Round(float64(bitSize) / float64(maxKeys) * math.Ln2))
	if hashCount < 1 {
		hashCount = 1
	}
	byteSize := (bitSize + 7) / 8
	return &bloomBuilder{
		bits:      make([]byte, byteSize),
		bitSize:   byteSize * 8,
		hashCount: hashCount,
		maxKeys:   maxKeys,
	}
}

func (b *bloomBuilder) add(key []byte) {
	hash1 := murmurHash(key, 0)
	hash2 := murmurHash(key, hash1)
	composite := hash1
	for range b.hashCount {
		pos := int(math.Abs(float64(composite % int32(b.bitSize))))
		b.setBit(pos)
		composite += hash2
	}
	b.keyCount++
}

func (b *bloomBuilder) setBit(pos int) {
	b.bits[pos>>3] |= 1 << uint(pos&0x7)
}
