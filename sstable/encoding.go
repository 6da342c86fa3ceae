package sstable

import "fmt"

// DataBlockDecoder decodes data block payloads based on the encoding type.
type DataBlockDecoder interface {
	Decode(src []byte) ([]byte, error)
	String() string
}

type noneDecoder struct{}

func (noneDecoder) Decode(src []byte) ([]byte, error) { return src, nil }
func (noneDecoder) String() string                    { return "NONE" }

// Data block encoding IDs, stable across this package's encode/decode paths.
// This package's writer only ever emits EncodingNone; the includeTags
// parameter is accepted for symmetry with decoders that would need it.
const (
	EncodingNone = 0
)

// DataBlockDecoderFor returns the decoder for the given encoding ID.
func DataBlockDecoderFor(id int, includeTags bool) (DataBlockDecoder, error) {
	_ = includeTags
	switch id {
	case EncodingNone:
		return noneDecoder{}, nil
	default:
		return nil, fmt.Errorf("sstable: unsupported data block encoding %d", id)
	}
}
