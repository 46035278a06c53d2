package protocol

import "errors"

// Wire framing constants. A frame on the wire is:
//
//	byte 0:       total length, including this byte (5..255)
//	byte 1:       FrameDest | (sequence & SeqMask)
//	bytes 2..n-4: payload = VLQ command id ++ parameters
//	byte n-3:     CRC16 high byte
//	byte n-2:     CRC16 low byte
//	byte n-1:     FrameSync
//
// where the CRC covers bytes [0, n-3).
const (
	FrameMin         = 5
	FrameMax         = 255
	FrameHeaderSize  = 2
	FrameTrailerSize = 3
	FrameSync        = 0x7e
	FrameDest        = 0x10
	SeqMask          = 0x0f
)

// Frame parse errors. All of them mean corrupt data at the head of the
// buffer; the caller resynchronizes on the next sync byte instead of
// aborting the stream.
var (
	ErrCrcMismatch = errors.New("protocol: frame CRC mismatch")
	ErrMissingSync = errors.New("protocol: frame missing sync byte")
	ErrFrameLength = errors.New("protocol: frame length out of range")
)

// Frame is one validated message block extracted from the wire.
type Frame struct {
	// Seq is the 4-bit sequence number from the header.
	Seq uint8

	// Payload is the interior of the frame: a VLQ command id followed by
	// the command parameters. Empty for ack-only blocks.
	Payload []byte
}

// BuildFrame wraps a command id and its parameters into a complete wire
// frame with the given 4-bit sequence number.
func BuildFrame(seq uint8, cmd int32, params []byte) []byte {
	payload := AppendInt(nil, cmd)
	payload = append(payload, params...)
	n := FrameHeaderSize + len(payload) + FrameTrailerSize
	out := make([]byte, 0, n)
	out = append(out, byte(n), FrameDest|(seq&SeqMask))
	out = append(out, payload...)
	crc := CRC16(out)
	return append(out, byte(crc>>8), byte(crc), FrameSync)
}

// ParseFrame inspects the start of buf for one complete frame. It returns
// (nil, 0, nil) when buf is still too short to judge and more bytes are
// needed. On success n is the number of wire bytes the caller must consume.
// The returned payload does not alias buf.
func ParseFrame(buf []byte) (f *Frame, n int, err error) {
	if len(buf) < FrameMin {
		return nil, 0, nil
	}
	n = int(buf[0])
	if n < FrameMin {
		return nil, 0, ErrFrameLength
	}
	if len(buf) < n {
		return nil, 0, nil
	}
	crc := uint16(buf[n-3])<<8 | uint16(buf[n-2])
	if CRC16(buf[:n-3]) != crc {
		return nil, 0, ErrCrcMismatch
	}
	if buf[n-1] != FrameSync {
		return nil, 0, ErrMissingSync
	}
	f = &Frame{
		Seq:     buf[1] & SeqMask,
		Payload: append([]byte(nil), buf[2:n-3]...),
	}
	return f, n, nil
}
