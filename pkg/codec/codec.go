// Package codec provides the value codecs that turn typed records into the
// opaque payload bytes carried by protocol frames.
package codec

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupported is returned for unknown codec names and for values a codec
// cannot represent.
var ErrUnsupported = errors.New("codec: unsupported")

// Codec serializes records. Marshal must be deterministic for a given value,
// and Unmarshal must reject bytes that do not decode into v.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

const (
	NameCBOR     = "cbor"
	NameProtobuf = "protobuf"
)

// ByName returns the codec registered under name.
func ByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", NameCBOR:
		return CBOR(), nil
	case NameProtobuf, "proto":
		return Protobuf(), nil
	default:
		return nil, fmt.Errorf("%w: codec %q", ErrUnsupported, name)
	}
}
