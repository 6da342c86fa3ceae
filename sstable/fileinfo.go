package sstable

import (
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// pbMagic is the 4-byte magic prefix written before the protobuf-encoded
// file-info map.
var pbMagic = [4]byte{'P', 'B', 'U', 'F'}

// Well-known FileInfo keys.
const (
	FileInfoAvgKeyLen         = "sstable.AVG_KEY_LEN"
	FileInfoAvgValueLen       = "sstable.AVG_VALUE_LEN"
	FileInfoLastKey           = "sstable.LASTKEY"
	FileInfoMaxMemstoreTS     = "MAX_MEMSTORE_TS_KEY"
	FileInfoDataBlockEncoding = "DATA_BLOCK_ENCODING"
	FileInfoMinTimestamp      = "sstable.MIN_TIMESTAMP"
	FileInfoMaxTimestamp      = "sstable.MAX_TIMESTAMP"
)

const fileInfoMapEntryField = 1 // repeated MapEntry in the file-info message
const (
	mapEntryFieldKey   = 1
	mapEntryFieldValue = 2
)

// ReadFileInfo reads the FILE_INFO block at the given offset and returns the key-value map.
func ReadFileInfo(r io.ReaderAt, offset int64, decomp Decompressor) (map[string][]byte, error) {
	blk, err := ReadBlock(r, offset, decomp)
	if err != nil {
		return nil, fmt.Errorf("sstable: read file info block: %w", err)
	}
	if blk.Header.Type != BlockFileInfo {
		return nil, fmt.Errorf("sstable: expected FILE_INFO block, got %s", blk.Header.Type)
	}
	return parseFileInfo(blk.Data)
}

func parseFileInfo(data []byte) (map[string][]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("sstable: file info data too short")
	}
	if [4]byte(data[:4]) != pbMagic {
		return nil, fmt.Errorf("sstable: file info missing PBUF magic, got %q", data[:4])
	}
	data = data[4:]

	// Delimited format: varint length prefix + message.
	msgLen, prefixLen := protowire.ConsumeVarint(data)
	if prefixLen < 0 {
		return nil, fmt.Errorf("sstable: invalid file info message length prefix")
	}
	if msgLen > uint64(len(data)-prefixLen) {
		return nil, fmt.Errorf("sstable: file info message length %d exceeds available data", msgLen)
	}
	msgData := data[prefixLen : prefixLen+int(msgLen)]

	m := make(map[string][]byte)
	for len(msgData) > 0 {
		num, typ, n := protowire.ConsumeTag(msgData)
		if n < 0 {
			return nil, fmt.Errorf("sstable: file info: invalid tag: %w", protowire.ParseError(n))
		}
		msgData = msgData[n:]
		if num != fileInfoMapEntryField || typ != protowire.BytesType {
			n := protowire.ConsumeFieldValue(num, typ, msgData)
			if n < 0 {
				return nil, fmt.Errorf("sstable: file info: skip unknown field: %w", protowire.ParseError(n))
			}
			msgData = msgData[n:]
			continue
		}
		entry, n := protowire.ConsumeBytes(msgData)
		if n < 0 {
			return nil, fmt.Errorf("sstable: file info: invalid map entry: %w", protowire.ParseError(n))
		}
		msgData = msgData[n:]

		key, val, err := parseMapEntry(entry)
		if err != nil {
			return nil, err
		}
		m[string(key)] = val
	}
	return m, nil
}

func parseMapEntry(data []byte) (key, val []byte, err error) {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, nil, fmt.Errorf("sstable: file info: invalid map entry tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		if typ != protowire.BytesType {
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, nil, fmt.Errorf("sstable: file info: skip map entry field: %w", protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}
		v, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return nil, nil, fmt.Errorf("sstable: file info: invalid map entry value: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case mapEntryFieldKey:
			key = append([]byte(nil), v...)
		case mapEntryFieldValue:
			val = append([]byte(nil), v...)
		}
	}
	return key, val, nil
}

// EncodeFileInfo serializes a file-info map in the same PBUF-delimited wire
// format ReadFileInfo consumes, for use by the writer.
func EncodeFileInfo(m map[string][]byte) []byte {
	var msg []byte
	for k, v := range m {
		var entry []byte
		entry = protowire.AppendTag(entry, mapEntryFieldKey, protowire.BytesType)
		entry = protowire.AppendString(entry, k)
		entry = protowire.AppendTag(entry, mapEntryFieldValue, protowire.BytesType)
		entry = protowire.AppendBytes(entry, v)

		msg = protowire.AppendTag(msg, fileInfoMapEntryField, protowire.BytesType)
		msg = protowire.AppendBytes(msg, entry)
	}

	out := make([]byte, 0, 4+10+len(msg))
	out = append(out, pbMagic[:]...)
	out = protowire.AppendVarint(out, uint64(len(msg)))
	out = append(out, msg...)
	return out
}
