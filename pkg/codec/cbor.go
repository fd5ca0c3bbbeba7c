package codec

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("codec: cbor encode mode: %v", err))
	}
	cborDec, err = cbor.DecOptions{
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("codec: cbor decode mode: %v", err))
	}
}

type cborCodec struct{}

// CBOR returns the default codec: RFC 8949 core deterministic encoding.
// Decoding rejects unknown fields and trailing bytes.
func CBOR() Codec { return cborCodec{} }

func (cborCodec) Name() string { return NameCBOR }

func (cborCodec) Marshal(v any) ([]byte, error) {
	data, err := cborEnc.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cbor: %w", err)
	}
	return data, nil
}

func (cborCodec) Unmarshal(data []byte, v any) error {
	if err := cborDec.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode cbor: %w", err)
	}
	return nil
}
