package protocol

import "bytes"

// Reassembler turns an arbitrarily chunked byte stream back into validated
// frames. It owns an internal accumulation buffer: bytes belonging to a
// partial frame are retained across calls, bytes preceding a confirmed frame
// boundary are dropped as soon as they are consumed. It never blocks and
// performs no I/O; corruption is handled by scanning forward to the next
// sync byte and resuming from there.
type Reassembler struct {
	buf []byte

	// OnDiscard, when set, is invoked with each span of bytes dropped
	// during resynchronization and the parse error that triggered it.
	// The span is only valid for the duration of the call.
	OnDiscard func(garbage []byte, reason error)
}

// Feed appends newly arrived bytes and returns every complete frame that can
// now be extracted, in wire order. A partial frame at the tail stays
// buffered for the next call.
func (r *Reassembler) Feed(p []byte) []Frame {
	r.buf = append(r.buf, p...)
	var frames []Frame
	for len(r.buf) >= FrameMin {
		f, n, err := ParseFrame(r.buf)
		if err == nil {
			if f == nil {
				break // partial frame, wait for more bytes
			}
			frames = append(frames, *f)
			r.buf = r.buf[n:]
			continue
		}
		// Corrupt data at the head. Skip past the next sync byte and
		// retry from there; if there is none yet, keep what we have
		// and let future bytes complete the resync.
		i := bytes.IndexByte(r.buf[1:], FrameSync)
		if i < 0 {
			break
		}
		if r.OnDiscard != nil {
			r.OnDiscard(r.buf[:i+2], err)
		}
		r.buf = r.buf[i+2:]
	}
	return frames
}

// Pending reports how many unconsumed bytes are buffered.
func (r *Reassembler) Pending() int {
	return len(r.buf)
}
