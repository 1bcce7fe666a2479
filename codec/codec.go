// Package codec converts envelopes to and from frame payloads.
//
// A Codec serializes plain structured values (maps, slices, scalars). The Envelope
// type builds on top of it: it lays out Request/Response values as structured
// maps, and validates decoded maps before handing typed envelopes back.
package codec

import "fmt"

type CodecType byte

const (
	CodecTypeJSON    CodecType = 0
	CodecTypeMsgpack CodecType = 1
)

func (t CodecType) String() string {
	switch t {
	case CodecTypeJSON:
		return "json"
	case CodecTypeMsgpack:
		return "msgpack"
	default:
		return fmt.Sprintf("codec(%d)", byte(t))
	}
}

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType // 0=JSON, 1=MessagePack
}

func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeMsgpack {
		return &MsgpackCodec{}
	}

	return &JSONCodec{}
}

// ParseCodecType maps a configuration name ("json", "msgpack") to a CodecType.
func ParseCodecType(name string) (CodecType, error) {
	switch name {
	case "", "json":
		return CodecTypeJSON, nil
	case "msgpack", "messagepack":
		return CodecTypeMsgpack, nil
	default:
		return 0, fmt.Errorf("unknown codec %q", name)
	}
}
