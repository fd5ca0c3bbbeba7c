package codec

import (
	"fmt"

	"google.golang.org/protobuf/proto"
)

// ProtoConverter is implemented by records that have a protobuf
// representation. It keeps protobuf types out of the records' public API.
type ProtoConverter interface {
	// ToProto converts the record to its protobuf message.
	ToProto() proto.Message
	// NewProto returns an empty message to unmarshal into.
	NewProto() proto.Message
	// FromProto populates the record from a message returned by NewProto.
	FromProto(m proto.Message) error
}

type protobufCodec struct {
	marshal proto.MarshalOptions
}

// Protobuf returns a codec for proto.Message values and ProtoConverter
// records. Marshalling is deterministic.
func Protobuf() Codec {
	return protobufCodec{marshal: proto.MarshalOptions{Deterministic: true}}
}

func (protobufCodec) Name() string { return NameProtobuf }

func (c protobufCodec) Marshal(v any) ([]byte, error) {
	var m proto.Message
	switch value := v.(type) {
	case proto.Message:
		m = value
	case ProtoConverter:
		m = value.ToProto()
	default:
		return nil, fmt.Errorf("%w: protobuf cannot encode %T", ErrUnsupported, v)
	}
	data, err := c.marshal.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode protobuf: %w", err)
	}
	return data, nil
}

func (protobufCodec) Unmarshal(data []byte, v any) error {
	switch value := v.(type) {
	case proto.Message:
		if err := proto.Unmarshal(data, value); err != nil {
			return fmt.Errorf("failed to decode protobuf: %w", err)
		}
		return nil
	case ProtoConverter:
		m := value.NewProto()
		if err := proto.Unmarshal(data, m); err != nil {
			return fmt.Errorf("failed to decode protobuf: %w", err)
		}
		return value.FromProto(m)
	default:
		return fmt.Errorf("%w: protobuf cannot decode into %T", ErrUnsupported, v)
	}
}
