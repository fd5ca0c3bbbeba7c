package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	tagSize = 2

	// initialPayloadCap caps the buffer reserved up front for a payload; the
	// rest grows with the bytes that actually arrive.
	initialPayloadCap = 64 << 10

	defaultMaxPayloadLength = 16 << 20 // 16 MiB
)

// Frame is one self-delimited unit of the wire format.
type Frame struct {
	PayloadLength uint64
	Tag           uint16
	Payload       []byte
}

// State is a resumable decoder cursor. It is one of AccumulatingLength,
// AccumulatingTag, AccumulatingPayload or Complete.
//
// A state is consumed by Advance: advance a given non-terminal state at most
// once and continue from the returned one.
type State interface {
	step(input []byte) (next State, consumed int)
}

// AccumulatingLength collects the varint payload length.
type AccumulatingLength struct {
	// Shift counts the 7-bit groups consumed so far.
	Shift  uint
	Length uint64
}

// AccumulatingTag collects the two little-endian tag bytes.
type AccumulatingTag struct {
	PayloadLength uint64
	BytesRead     uint8
	Tag           uint16
}

// AccumulatingPayload collects payload bytes until PayloadLength are held.
type AccumulatingPayload struct {
	PayloadLength uint64
	Tag           uint16
	Payload       []byte
}

// Complete holds a finished frame and the input that followed it. Rest
// aliases the slice passed to Advance; decode it before reusing that buffer.
type Complete struct {
	Frame Frame
	Rest  []byte
}

// Start begins decoding a new frame from input.
func Start(input []byte) State {
	return Advance(AccumulatingLength{}, input)
}

// Advance feeds input into s and returns the resulting state. It consumes
// input until it is exhausted or a frame completes; the unconsumed tail is
// returned in Complete.Rest. Advancing a Complete returns it unchanged.
//
// No bounds are enforced: a declared length is trusted as is. Use
// Limits.Advance on untrusted streams.
func Advance(s State, input []byte) State {
	next, _ := advance(s, input, nil)
	return next
}

// Limits bounds what the decoder accepts from a peer. A zero
// MaxPayloadLength disables the length check.
type Limits struct {
	MaxPayloadLength uint64
}

func DefaultLimits() Limits {
	return Limits{MaxPayloadLength: defaultMaxPayloadLength}
}

// Start begins decoding a new frame from input within the limits.
func (l Limits) Start(input []byte) (State, error) {
	return l.Advance(AccumulatingLength{}, input)
}

// Advance is Advance with bounds: a length prefix longer than 64 bits fails
// with ErrLengthOverflow and a declared length above MaxPayloadLength fails
// with ErrFrameTooLarge, before any payload buffer is reserved. Both errors
// also match ErrProtocol.
func (l Limits) Advance(s State, input []byte) (State, error) {
	return advance(s, input, &l)
}

func advance(s State, input []byte, limits *Limits) (State, error) {
	for {
		if limits != nil {
			if err := limits.precheck(s, input); err != nil {
				return s, err
			}
		}
		next, consumed := s.step(input)
		input = input[consumed:]
		if limits != nil {
			if err := limits.check(next); err != nil {
				return next, err
			}
		}
		if _, done := next.(Complete); done || consumed == 0 {
			return next, nil
		}
		s = next
	}
}

func (l *Limits) precheck(s State, input []byte) error {
	ls, ok := s.(AccumulatingLength)
	if !ok || len(input) == 0 {
		return nil
	}
	// The tenth group may only carry the single remaining bit.
	last := binary.MaxVarintLen64 - 1
	if ls.Shift > uint(last) || (ls.Shift == uint(last) && input[0]&groupMask > 1) {
		return errors.Join(ErrProtocol, ErrLengthOverflow)
	}
	return nil
}

func (l *Limits) check(s State) error {
	ts, ok := s.(AccumulatingTag)
	if !ok || l.MaxPayloadLength == 0 {
		return nil
	}
	if ts.PayloadLength > l.MaxPayloadLength {
		return errors.Join(ErrProtocol, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, ts.PayloadLength, l.MaxPayloadLength))
	}
	return nil
}

// step consumes at most one length byte.
func (s AccumulatingLength) step(input []byte) (State, int) {
	if len(input) == 0 {
		return s, 0
	}
	b := input[0]
	length := s.Length | uint64(b&groupMask)<<(s.Shift*groupBits)
	if b&continuationBit == 0 {
		return AccumulatingTag{PayloadLength: length}, 1
	}
	return AccumulatingLength{Shift: s.Shift + 1, Length: length}, 1
}

// step consumes at most one tag byte.
func (s AccumulatingTag) step(input []byte) (State, int) {
	if len(input) == 0 {
		return s, 0
	}
	tag := s.Tag | uint16(input[0])<<(8*uint16(s.BytesRead))
	read := s.BytesRead + 1
	if read < tagSize {
		return AccumulatingTag{PayloadLength: s.PayloadLength, BytesRead: read, Tag: tag}, 1
	}
	return AccumulatingPayload{
		PayloadLength: s.PayloadLength,
		Tag:           tag,
		Payload:       make([]byte, 0, min(s.PayloadLength, initialPayloadCap)),
	}, 1
}

// step copies min(len(input), remaining) bytes.
func (s AccumulatingPayload) step(input []byte) (State, int) {
	remaining := s.PayloadLength - uint64(len(s.Payload))
	take := len(input)
	if uint64(take) > remaining {
		take = int(remaining)
	}
	// Appending never changes the bytes visible through s.Payload.
	payload := append(s.Payload, input[:take]...)
	if uint64(len(payload)) < s.PayloadLength {
		return AccumulatingPayload{PayloadLength: s.PayloadLength, Tag: s.Tag, Payload: payload}, take
	}
	rest := input[take:]
	if len(rest) == 0 {
		rest = nil
	}
	return Complete{
		Frame: Frame{PayloadLength: s.PayloadLength, Tag: s.Tag, Payload: payload},
		Rest:  rest,
	}, take
}

func (s Complete) step([]byte) (State, int) {
	return s, 0
}
