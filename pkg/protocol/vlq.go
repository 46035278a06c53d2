package protocol

import "errors"

// ErrTruncated is returned when a VLQ continuation bit promises another byte
// that the buffer does not hold. The caller should wait for more input and
// retry the decode.
var ErrTruncated = errors.New("protocol: truncated VLQ value")

// AppendInt appends the VLQ encoding of v to dst and returns the extended
// slice. The encoding is 1 to 5 bytes; each band test is asymmetric
// (covering [-(1<<k), 3<<k)) so one added byte buys a larger positive range
// than negative. Range checks use the signed view of v, bit extraction the
// raw 32-bit pattern.
func AppendInt(dst []byte, v int32) []byte {
	uv := uint32(v)
	if v >= 0xc000000 || v < -0x4000000 {
		dst = append(dst, byte((uv>>28)&0x7f)|0x80)
	}
	if v >= 0x180000 || v < -0x80000 {
		dst = append(dst, byte((uv>>21)&0x7f)|0x80)
	}
	if v >= 0x3000 || v < -0x1000 {
		dst = append(dst, byte((uv>>14)&0x7f)|0x80)
	}
	if v >= 0x60 || v < -0x20 {
		dst = append(dst, byte((uv>>7)&0x7f)|0x80)
	}
	return append(dst, byte(uv&0x7f))
}

// DecodeInt decodes one VLQ value from buf starting at pos. It returns the
// value and the offset of the first byte after it. A first byte with bits
// 5-6 both set marks a negative value and is sign-extended before the
// continuation bytes are folded in.
func DecodeInt(buf []byte, pos int) (int32, int, error) {
	if pos >= len(buf) {
		return 0, pos, ErrTruncated
	}
	c := buf[pos]
	pos++
	v := uint32(c & 0x7f)
	if c&0x60 == 0x60 {
		v |= ^uint32(0x1f)
	}
	for c&0x80 != 0 {
		if pos >= len(buf) {
			return 0, pos, ErrTruncated
		}
		c = buf[pos]
		pos++
		v = (v << 7) | uint32(c&0x7f)
	}
	return int32(v), pos, nil
}
