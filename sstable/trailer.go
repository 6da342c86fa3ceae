package sstable

import (
	"encoding/binary"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	trailerSize   = 4096 // v3 trailer is a fixed 4096 bytes
	versionSize   = 4    // 4-byte version at end of file
	majorVersion3 = 3
)

// Trailer field numbers in the delimited protobuf message written between
// the TRAILER magic and the version footer. There is no accompanying .proto
// source for this format — it is this package's own fixed schema, encoded
// and decoded directly with protowire rather than generated message code.
const (
	trailerFieldFileInfoOffset       = 1
	trailerFieldLoadOnOpenOffset     = 2
	trailerFieldUncompressedIdxSize  = 3
	trailerFieldTotalUncompressed    = 4
	trailerFieldDataIndexCount       = 5
	trailerFieldMetaIndexCount       = 6
	trailerFieldEntryCount           = 7
	trailerFieldNumDataIndexLevels   = 8
	trailerFieldFirstDataBlockOffset = 9
	trailerFieldLastDataBlockOffset  = 10
	trailerFieldComparatorClassName  = 11
	trailerFieldCompressionCodec     = 12
	trailerFieldEncryptionKey        = 13
)

// Trailer holds the parsed trailer of a segment file.
type Trailer struct {
	MajorVersion              int
	MinorVersion              int
	FileInfoOffset            uint64
	LoadOnOpenDataOffset      uint64
	UncompressedDataIndexSize uint64
	TotalUncompressedBytes    uint64
	DataIndexCount            uint32
	MetaIndexCount            uint32
	EntryCount                uint64
	NumDataIndexLevels        uint32
	FirstDataBlockOffset      uint64
	LastDataBlockOffset       uint64
	ComparatorClassName       string
	CompressionCodec          uint32
	EncryptionKey             []byte
}

// marshalTrailer encodes t's fields as a delimited protobuf-wire message.
func marshalTrailer(t *Trailer) []byte {
	var b []byte
	b = protowire.AppendTag(b, trailerFieldFileInfoOffset, protowire.VarintType)
	b = protowire.AppendVarint(b, t.FileInfoOffset)
	b = protowire.AppendTag(b, trailerFieldLoadOnOpenOffset, protowire.VarintType)
	b = protowire.AppendVarint(b, t.LoadOnOpenDataOffset)
	b = protowire.AppendTag(b, trailerFieldUncompressedIdxSize, protowire.VarintType)
	b = protowire.AppendVarint(b, t.UncompressedDataIndexSize)
	b = protowire.AppendTag(b, trailerFieldTotalUncompressed, protowire.VarintType)
	b = protowire.AppendVarint(b, t.TotalUncompressedBytes)
	b = protowire.AppendTag(b, trailerFieldDataIndexCount, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(t.DataIndexCount))
	b = protowire.AppendTag(b, trailerFieldMetaIndexCount, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(t.MetaIndexCount))
	b = protowire.AppendTag(b, trailerFieldEntryCount, protowire.VarintType)
	b = protowire.AppendVarint(b, t.EntryCount)
	b = protowire.AppendTag(b, trailerFieldNumDataIndexLevels, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(t.NumDataIndexLevels))
	b = protowire.AppendTag(b, trailerFieldFirstDataBlockOffset, protowire.VarintType)
	b = protowire.AppendVarint(b, t.FirstDataBlockOffset)
	b = protowire.AppendTag(b, trailerFieldLastDataBlockOffset, protowire.VarintType)
	b = protowire.AppendVarint(b, t.LastDataBlockOffset)
	if t.ComparatorClassName != "" {
		b = protowire.AppendTag(b, trailerFieldComparatorClassName, protowire.BytesType)
		b = protowire.AppendString(b, t.ComparatorClassName)
	}
	b = protowire.AppendTag(b, trailerFieldCompressionCodec, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(t.CompressionCodec))
	if len(t.EncryptionKey) > 0 {
		b = protowire.AppendTag(b, trailerFieldEncryptionKey, protowire.BytesType)
		b = protowire.AppendBytes(b, t.EncryptionKey)
	}
	return b
}

// unmarshalTrailer decodes a delimited protobuf-wire message produced by
// marshalTrailer into t.
func unmarshalTrailer(data []byte, t *Trailer) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("sstable: trailer: invalid tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("sstable: trailer: invalid varint: %w", protowire.ParseError(n))
			}
			data = data[n:]
			switch num {
			case trailerFieldFileInfoOffset:
				t.FileInfoOffset = v
			case trailerFieldLoadOnOpenOffset:
				t.LoadOnOpenDataOffset = v
			case trailerFieldUncompressedIdxSize:
				t.UncompressedDataIndexSize = v
			case trailerFieldTotalUncompressed:
				t.TotalUncompressedBytes = v
			case trailerFieldDataIndexCount:
				t.DataIndexCount = uint32(v)
			case trailerFieldMetaIndexCount:
				t.MetaIndexCount = uint32(v)
			case trailerFieldEntryCount:
				t.EntryCount = v
			case trailerFieldNumDataIndexLevels:
				t.NumDataIndexLevels = uint32(v)
			case trailerFieldFirstDataBlockOffset:
				t.FirstDataBlockOffset = v
			case trailerFieldLastDataBlockOffset:
				t.LastDataBlockOffset = v
			case trailerFieldCompressionCodec:
				t.CompressionCodec = uint32(v)
			}
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return fmt.Errorf("sstable: trailer: invalid bytes field: %w", protowire.ParseError(n))
			}
			data = data[n:]
			switch num {
			case trailerFieldComparatorClassName:
				t.ComparatorClassName = string(v)
			case trailerFieldEncryptionKey:
				t.EncryptionKey = append([]byte(nil), v...)
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("sstable: trailer: skip unknown field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return nil
}

// ReadTrailer reads and parses the segment file trailer from the end of the file.
func ReadTrailer(r io.ReaderAt, fileSize int64) (*Trailer, error) {
	if fileSize < trailerSize {
		return nil, fmt.Errorf("sstable: file too small (%d bytes) for trailer", fileSize)
	}

	var vBuf [versionSize]byte
	if _, err := r.ReadAt(vBuf[:], fileSize-versionSize); err != nil {
		return nil, fmt.Errorf("sstable: read version: %w", err)
	}
	version := binary.BigEndian.Uint32(vBuf[:])

	// Major version is in the lower 3 bytes, minor version in the upper byte.
	majorVersion := int(version & 0x00FFFFFF)
	minorVersion := int((version >> 24) & 0xFF)

	if majorVersion != majorVersion3 {
		return nil, fmt.Errorf("sstable: unsupported major version %d (only v3 supported)", majorVersion)
	}

	trailerBuf := make([]byte, trailerSize)
	if _, err := r.ReadAt(trailerBuf, fileSize-trailerSize); err != nil {
		return nil, fmt.Errorf("sstable: read trailer: %w", err)
	}

	var magic [magicLen]byte
	copy(magic[:], trailerBuf[:magicLen])
	if magic != magicTrailer {
		return nil, fmt.Errorf("sstable: invalid trailer magic %q", magic)
	}

	// Delimited format: varint length prefix + message.
	pbData := trailerBuf[magicLen : trailerSize-versionSize]
	msgLen, prefixLen := protowire.ConsumeVarint(pbData)
	if prefixLen < 0 {
		return nil, fmt.Errorf("sstable: invalid trailer message length prefix")
	}
	if msgLen > uint64(len(pbData)-prefixLen) {
		return nil, fmt.Errorf("sstable: trailer message length %d exceeds available data", msgLen)
	}
	msgData := pbData[prefixLen : prefixLen+int(msgLen)]

	t := &Trailer{MajorVersion: majorVersion, MinorVersion: minorVersion}
	if err := unmarshalTrailer(msgData, t); err != nil {
		return nil, err
	}
	return t, nil
}

// WriteTrailer serializes t into a fixed trailerSize-byte block, suitable
// for appending at the end of a segment file followed by nothing else.
func WriteTrailer(t *Trailer) []byte {
	msg := marshalTrailer(t)

	buf := make([]byte, trailerSize)
	copy(buf[0:magicLen], magicTrailer[:])
	off := magicLen
	off += binary.PutUvarint(buf[off:], uint64(len(msg)))
	copy(buf[off:], msg)

	version := uint32(t.MinorVersion)<<24 | uint32(majorVersion3)
	binary.BigEndian.PutUint32(buf[trailerSize-versionSize:], version)
	return buf
}
