package protocol

import (
	"encoding/binary"
	"fmt"
)

// FrameKind is the leading byte of every datagram.
type FrameKind uint8

const (
	FrameReliable   FrameKind = 0x00 // [0x00][seq:4][payload]
	FrameUnreliable FrameKind = 0x01 // [0x01][payload]
	FrameAck        FrameKind = 0x02 // [0x02][seq:4]
)

func (k FrameKind) String() string {
	switch k {
	case FrameReliable:
		return "reliable"
	case FrameUnreliable:
		return "unreliable"
	case FrameAck:
		return "ack"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Header sizes.
const (
	ReliableHeaderSize   = 5
	UnreliableHeaderSize = 1
	AckSize              = 5
)

// Frame is one decoded datagram. Seq is zero for unreliable frames and
// Payload is nil for acks.
type Frame struct {
	Kind    FrameKind
	Seq     uint32
	Payload []byte
}

// IsKeepalive reports whether f is the empty unreliable frame used to keep
// relay and NAT mappings alive.
func (f Frame) IsKeepalive() bool {
	return f.Kind == FrameUnreliable && len(f.Payload) == 0
}

// KeepaliveFrame returns the keepalive datagram.
func KeepaliveFrame() []byte {
	return []byte{byte(FrameUnreliable)}
}

// EncodeReliable frames payload with the given sequence number.
func EncodeReliable(seq uint32, payload []byte) []byte {
	buf := make([]byte, ReliableHeaderSize+len(payload))
	buf[0] = byte(FrameReliable)
	binary.BigEndian.PutUint32(buf[1:5], seq)
	copy(buf[ReliableHeaderSize:], payload)
	return buf
}

// EncodeUnreliable frames payload for best-effort delivery.
func EncodeUnreliable(payload []byte) []byte {
	buf := make([]byte, UnreliableHeaderSize+len(payload))
	buf[0] = byte(FrameUnreliable)
	copy(buf[UnreliableHeaderSize:], payload)
	return buf
}

// EncodeAck builds the acknowledgment for seq.
func EncodeAck(seq uint32) []byte {
	buf := make([]byte, AckSize)
	buf[0] = byte(FrameAck)
	binary.BigEndian.PutUint32(buf[1:5], seq)
	return buf
}

// EncodeFrame serializes f according to its kind.
func EncodeFrame(f Frame) []byte {
	switch f.Kind {
	case FrameReliable:
		return EncodeReliable(f.Seq, f.Payload)
	case FrameAck:
		return EncodeAck(f.Seq)
	default:
		return EncodeUnreliable(f.Payload)
	}
}

// DecodeFrame classifies a datagram. The returned payload aliases data.
func DecodeFrame(data []byte) (Frame, error) {
	if len(data) == 0 {
		return Frame{}, &ParseError{Kind: ErrTruncated, Field: "frame kind", Need: 1}
	}

	kind := FrameKind(data[0])
	switch kind {
	case FrameReliable:
		if len(data) < ReliableHeaderSize {
			return Frame{}, &ParseError{Kind: ErrTruncated, Tag: data[0], Field: "seq", Need: 4, Have: len(data) - 1}
		}
		f := Frame{Kind: kind, Seq: binary.BigEndian.Uint32(data[1:5])}
		if len(data) > ReliableHeaderSize {
			f.Payload = data[ReliableHeaderSize:]
		}
		return f, nil

	case FrameUnreliable:
		f := Frame{Kind: kind}
		if len(data) > UnreliableHeaderSize {
			f.Payload = data[UnreliableHeaderSize:]
		}
		return f, nil

	case FrameAck:
		if len(data) < AckSize {
			return Frame{}, &ParseError{Kind: ErrTruncated, Tag: data[0], Field: "seq", Need: 4, Have: len(data) - 1}
		}
		if len(data) > AckSize {
			return Frame{}, &ParseError{Kind: ErrTrailingBytes, Tag: data[0], Field: "ack", Have: len(data) - AckSize}
		}
		return Frame{Kind: kind, Seq: binary.BigEndian.Uint32(data[1:5])}, nil

	default:
		return Frame{}, &ParseError{Kind: ErrUnknownTag, Tag: data[0], Field: "frame kind"}
	}
}
