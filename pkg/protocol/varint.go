package protocol

import "encoding/binary"

const (
	continuationBit = 0x80
	groupMask       = 0x7f
	groupBits       = 7
)

// AppendLength appends n as a varint: seven bits per byte, least significant
// group first, with the high bit set on every byte except the last.
func AppendLength(dst []byte, n uint64) []byte {
	for n >= continuationBit {
		dst = append(dst, byte(n&groupMask)|continuationBit)
		n >>= groupBits
	}
	return append(dst, byte(n))
}

// EncodeLength returns the varint encoding of n. Zero encodes as a single 0x00.
func EncodeLength(n uint64) []byte {
	return AppendLength(make([]byte, 0, binary.MaxVarintLen64), n)
}

// LengthSize reports how many bytes EncodeLength(n) produces.
func LengthSize(n uint64) int {
	size := 1
	for n >= continuationBit {
		n >>= groupBits
		size++
	}
	return size
}
