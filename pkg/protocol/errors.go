package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrProtocol is a generic sentinel for wire protocol violations.
	ErrProtocol = errors.New("daima protocol error")

	ErrFrameTooLarge    = errors.New("frame payload too large")
	ErrLengthOverflow   = errors.New("length prefix overflows 64 bits")
	ErrMalformedPayload = errors.New("malformed payload")
)

// DecodeError reports a payload that does not match the shape its tag promises.
type DecodeError struct {
	Tag uint16
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s payload (tag %d): %v", MessageType(e.Tag), e.Tag, e.Err)
}

func (e *DecodeError) Unwrap() []error {
	return []error{ErrMalformedPayload, e.Err}
}
