package protocol

import (
	"encoding/binary"
	"io"
)

// AppendFrame appends one frame carrying payload under tag to dst.
func AppendFrame(dst, payload []byte, tag uint16) []byte {
	dst = AppendLength(dst, uint64(len(payload)))
	dst = binary.LittleEndian.AppendUint16(dst, tag)
	return append(dst, payload...)
}

// EncodeFrame returns varint(len(payload)) ++ tag (little-endian) ++ payload.
func EncodeFrame(payload []byte, tag uint16) []byte {
	size := LengthSize(uint64(len(payload))) + tagSize + len(payload)
	return AppendFrame(make([]byte, 0, size), payload, tag)
}

// WriteFrame writes one frame to w in a single Write call.
func WriteFrame(w io.Writer, payload []byte, tag uint16) error {
	_, err := w.Write(EncodeFrame(payload, tag))
	return err
}
