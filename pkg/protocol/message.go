package protocol

import (
	"fmt"

	"github.com/omochice/daima/pkg/codec"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// MessageType is the tag code carried in every frame
type MessageType uint16

const (
	MessageTypeInit MessageType = iota
	MessageTypeUnknown
)

// String returns the string representation of MessageType
func (mt MessageType) String() string {
	switch mt {
	case MessageTypeInit:
		return "INIT"
	default:
		return "UNKNOWN"
	}
}

// Message is a typed message carried by one frame: Init or Unknown.
type Message interface {
	Type() MessageType
}

// Init announces a client by name.
type Init struct {
	Name string
}

func (Init) Type() MessageType { return MessageTypeInit }

// Unknown stands for any message kind this build does not recognize. Tag is
// the code seen on the wire; it is informational only.
type Unknown struct {
	Tag uint16
}

func (Unknown) Type() MessageType { return MessageTypeUnknown }

// Encode encodes msg into one frame, using c for the payload
func Encode(msg Message, c codec.Codec) ([]byte, error) {
	var (
		tag    uint16
		fields any
	)
	switch m := msg.(type) {
	case Init:
		tag, fields = uint16(MessageTypeInit), &initRecord{Name: m.Name}
	case *Init:
		tag, fields = uint16(MessageTypeInit), &initRecord{Name: m.Name}
	case Unknown, *Unknown:
		tag, fields = uint16(MessageTypeUnknown), &emptyRecord{}
	default:
		return nil, fmt.Errorf("failed to encode message: unsupported type %T", msg)
	}
	payload, err := c.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return EncodeFrame(payload, tag), nil
}

// Decode turns a completed frame into a typed message. Tag 0 must carry a
// valid Init payload; every other tag decodes to Unknown without the payload
// being looked at.
func Decode(f Frame, c codec.Codec) (Message, error) {
	if MessageType(f.Tag) != MessageTypeInit {
		return Unknown{Tag: f.Tag}, nil
	}
	var rec initRecord
	if err := c.Unmarshal(f.Payload, &rec); err != nil {
		return nil, &DecodeError{Tag: f.Tag, Err: err}
	}
	return Init{Name: rec.Name}, nil
}

// initRecord is the payload shape of Init.
type initRecord struct {
	Name string `cbor:"name"`
}

// ToProto converts the record to protobuf.
// This conversion isolates protobuf implementation details from the public API.
func (r *initRecord) ToProto() proto.Message {
	return wrapperspb.String(r.Name)
}

func (r *initRecord) NewProto() proto.Message {
	return &wrapperspb.StringValue{}
}

func (r *initRecord) FromProto(m proto.Message) error {
	sv, ok := m.(*wrapperspb.StringValue)
	if !ok {
		return fmt.Errorf("unexpected protobuf message %T", m)
	}
	r.Name = sv.GetValue()
	return nil
}

// emptyRecord is the payload shape of Unknown.
type emptyRecord struct{}

func (*emptyRecord) ToProto() proto.Message  { return &emptypb.Empty{} }
func (*emptyRecord) NewProto() proto.Message { return &emptypb.Empty{} }

func (*emptyRecord) FromProto(proto.Message) error { return nil }
