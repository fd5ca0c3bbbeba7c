package protocol_test

import (
	"bytes"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/omochice/daima/pkg/protocol"
)

func TestStart_Empty(t *testing.T) {
	got := protocol.Start(nil)
	want := protocol.AccumulatingLength{}
	if diff := cmp.Diff(protocol.State(want), got); diff != "" {
		t.Errorf("Start(nil) mismatch (-want +got):\n%s", diff)
	}
}

func TestStart_States(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  protocol.State
	}{
		{
			name:  "length continues",
			input: []byte{0b1000_0010},
			want:  protocol.AccumulatingLength{Shift: 1, Length: 2},
		},
		{
			name:  "two length bytes",
			input: []byte{0b1000_0010, 0b0000_0100},
			want:  protocol.AccumulatingTag{PayloadLength: 514},
		},
		{
			name:  "single length byte",
			input: []byte{0b0001_0101},
			want:  protocol.AccumulatingTag{PayloadLength: 21},
		},
		{
			name:  "first tag byte",
			input: []byte{0b0001_0101, 0b1},
			want:  protocol.AccumulatingTag{PayloadLength: 21, BytesRead: 1, Tag: 1},
		},
		{
			name:  "tag complete, waiting for payload",
			input: []byte{0b0001_0101, 0x01, 0x01},
			want:  protocol.AccumulatingPayload{PayloadLength: 21, Tag: 0x0101},
		},
		{
			name:  "partial payload",
			input: []byte{0x03, 0x03, 0x00, 0b1, 0b11},
			want:  protocol.AccumulatingPayload{PayloadLength: 3, Tag: 3, Payload: []byte{0b1, 0b11}},
		},
		{
			name: "complete with rest",
			input: []byte{
				// number of bytes
				0b0000_0011,
				// tag
				0b011, 0b0,
				// payload
				0b1, 0b11, 0b111,
				// rest
				0b1111_1111,
			},
			want: protocol.Complete{
				Frame: protocol.Frame{PayloadLength: 3, Tag: 3, Payload: []byte{0b1, 0b11, 0b111}},
				Rest:  []byte{0b1111_1111},
			},
		},
		{
			name:  "empty payload completes after tag",
			input: []byte{0x00, 0x05, 0x00},
			want:  protocol.Complete{Frame: protocol.Frame{PayloadLength: 0, Tag: 5}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := protocol.Start(tt.input)
			if diff := cmp.Diff(tt.want, got, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("Start(%08b) mismatch (-want +got):\n%s", tt.input, diff)
			}
		})
	}
}

func TestAdvance_CompleteIsIdempotent(t *testing.T) {
	done := protocol.Start(protocol.EncodeFrame([]byte("abc"), 9))
	again := protocol.Advance(done, []byte{1, 2, 3})
	if diff := cmp.Diff(done, again); diff != "" {
		t.Errorf("Advance(Complete) changed state (-want +got):\n%s", diff)
	}
}

func TestAdvance_DoesNotMutatePreviousState(t *testing.T) {
	encoded := protocol.EncodeFrame([]byte("hello world"), 2)
	first := protocol.Start(encoded[:6])
	partial, ok := first.(protocol.AccumulatingPayload)
	if !ok {
		t.Fatalf("Start() = %T, want AccumulatingPayload", first)
	}
	snapshot := bytes.Clone(partial.Payload)

	protocol.Advance(partial, encoded[6:])

	if !bytes.Equal(partial.Payload, snapshot) {
		t.Errorf("previous state payload = %q, want %q", partial.Payload, snapshot)
	}
	if partial.PayloadLength != 11 || partial.Tag != 2 {
		t.Errorf("previous state header changed: %+v", partial)
	}
}

func TestAdvance_ChunkingInvariance(t *testing.T) {
	payloads := [][]byte{
		nil,
		{0x42},
		bytes.Repeat([]byte{0xab}, 127),
		bytes.Repeat([]byte{0xcd}, 128),
		bytes.Repeat([]byte("chunk"), 60),
		bytes.Repeat([]byte{0x01, 0x02, 0x03}, 30000),
	}
	tags := []uint16{0, 1, 0x00ff, 0xff00, 0xffff}
	rng := rand.New(rand.NewPCG(1, 2))

	for _, payload := range payloads {
		for _, tag := range tags {
			encoded := protocol.EncodeFrame(payload, tag)
			want := protocol.Start(encoded)

			for _, size := range []int{1, 2, 3, 7, 64, 4096} {
				got := feedInChunks(t, encoded, func() int { return size })
				if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
					t.Fatalf("len=%d tag=%d chunk=%d mismatch (-whole +chunked):\n%s", len(payload), tag, size, diff)
				}
			}

			got := feedInChunks(t, encoded, func() int { return 1 + rng.IntN(17) })
			if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
				t.Fatalf("len=%d tag=%d random chunks mismatch (-whole +chunked):\n%s", len(payload), tag, diff)
			}
		}
	}
}

func feedInChunks(t *testing.T, encoded []byte, next func() int) protocol.State {
	t.Helper()
	var st protocol.State = protocol.AccumulatingLength{}
	for len(encoded) > 0 {
		n := min(next(), len(encoded))
		if _, done := st.(protocol.Complete); done {
			t.Fatalf("frame completed with %d bytes left", len(encoded))
		}
		st = protocol.Advance(st, encoded[:n])
		encoded = encoded[n:]
	}
	return st
}

func TestAdvance_FrameRoundTripAllTags(t *testing.T) {
	for tag := 0; tag <= 0xffff; tag++ {
		payload := []byte{byte(tag), byte(tag >> 8), 0x00}
		st := protocol.Start(protocol.EncodeFrame(payload, uint16(tag)))
		done, ok := st.(protocol.Complete)
		if !ok {
			t.Fatalf("tag %d: state = %T, want Complete", tag, st)
		}
		if done.Frame.Tag != uint16(tag) {
			t.Fatalf("tag %d: decoded tag %d", tag, done.Frame.Tag)
		}
		if !bytes.Equal(done.Frame.Payload, payload) || done.Frame.PayloadLength != uint64(len(payload)) {
			t.Fatalf("tag %d: decoded frame %+v", tag, done.Frame)
		}
		if len(done.Rest) != 0 {
			t.Fatalf("tag %d: rest = %x, want empty", tag, done.Rest)
		}
	}
}

func TestAdvance_Pipelining(t *testing.T) {
	frame1 := protocol.EncodeFrame([]byte("first"), 0)
	frame2 := protocol.EncodeFrame(bytes.Repeat([]byte{7}, 200), 513)
	stream := append(bytes.Clone(frame1), frame2...)

	st := protocol.Start(stream)
	first, ok := st.(protocol.Complete)
	if !ok {
		t.Fatalf("first state = %T, want Complete", st)
	}
	if string(first.Frame.Payload) != "first" || first.Frame.Tag != 0 {
		t.Errorf("first frame = %+v", first.Frame)
	}
	if !bytes.Equal(first.Rest, frame2) {
		t.Fatalf("rest = %x, want %x", first.Rest, frame2)
	}

	st = protocol.Start(first.Rest)
	second, ok := st.(protocol.Complete)
	if !ok {
		t.Fatalf("second state = %T, want Complete", st)
	}
	if second.Frame.Tag != 513 || len(second.Frame.Payload) != 200 {
		t.Errorf("second frame = tag %d len %d", second.Frame.Tag, len(second.Frame.Payload))
	}
	if len(second.Rest) != 0 {
		t.Errorf("second rest = %x, want empty", second.Rest)
	}
}

func TestAdvance_HugeDeclaredLengthReservesLittle(t *testing.T) {
	input := append(protocol.EncodeLength(1<<40), 0x01, 0x00, 0xaa)
	st := protocol.Start(input)
	partial, ok := st.(protocol.AccumulatingPayload)
	if !ok {
		t.Fatalf("Start() = %T, want AccumulatingPayload", st)
	}
	if cap(partial.Payload) > 64<<10 {
		t.Errorf("reserved %d bytes for a payload that has not arrived", cap(partial.Payload))
	}
}

func TestLimits_Advance(t *testing.T) {
	limits := protocol.Limits{MaxPayloadLength: 10}

	t.Run("at limit", func(t *testing.T) {
		st, err := limits.Start(protocol.EncodeFrame(make([]byte, 10), 1))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, ok := st.(protocol.Complete); !ok {
			t.Errorf("state = %T, want Complete", st)
		}
	})

	t.Run("over limit", func(t *testing.T) {
		_, err := limits.Start(protocol.EncodeFrame(make([]byte, 11), 1))
		if !errors.Is(err, protocol.ErrFrameTooLarge) || !errors.Is(err, protocol.ErrProtocol) {
			t.Errorf("err = %v, want ErrFrameTooLarge joined with ErrProtocol", err)
		}
	})

	t.Run("over limit byte at a time", func(t *testing.T) {
		encoded := protocol.EncodeFrame(make([]byte, 300), 1)
		var (
			st  protocol.State = protocol.AccumulatingLength{}
			err error
			fed int
		)
		for fed < len(encoded) && err == nil {
			st, err = limits.Advance(st, encoded[fed:fed+1])
			fed++
		}
		if !errors.Is(err, protocol.ErrFrameTooLarge) {
			t.Fatalf("err = %v, want ErrFrameTooLarge", err)
		}
		if fed != protocol.LengthSize(300) {
			t.Errorf("rejected after %d bytes, want %d", fed, protocol.LengthSize(300))
		}
	})

	t.Run("varint overflow", func(t *testing.T) {
		input := bytes.Repeat([]byte{0xff}, 11)
		_, err := protocol.Limits{}.Start(input)
		if !errors.Is(err, protocol.ErrLengthOverflow) {
			t.Errorf("err = %v, want ErrLengthOverflow", err)
		}
	})

	t.Run("tenth byte overflow", func(t *testing.T) {
		input := append(bytes.Repeat([]byte{0xff}, 9), 0x02)
		_, err := protocol.Limits{}.Start(input)
		if !errors.Is(err, protocol.ErrLengthOverflow) {
			t.Errorf("err = %v, want ErrLengthOverflow", err)
		}
	})

	t.Run("max uint64 is not overflow", func(t *testing.T) {
		input := append(bytes.Repeat([]byte{0xff}, 9), 0x01, 0x00)
		st, err := protocol.Limits{}.Start(input)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		tag, ok := st.(protocol.AccumulatingTag)
		if !ok || tag.PayloadLength != ^uint64(0) {
			t.Errorf("state = %+v, want AccumulatingTag with max length", st)
		}
	})
}
