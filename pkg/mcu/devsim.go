package mcu

import (
	"sync"
	"time"

	"mculink-host/pkg/protocol"
	"mculink-host/pkg/serial"
)

// SimDevice emulates the firmware side of the link: it consumes command
// frames and produces response frames for the bootstrap command set
// (identify, get_clock, get_uptime). It backs both the in-process Transport
// used by tests and the mock-mcu binary's socket server.
type SimDevice struct {
	mu     sync.Mutex
	rz     protocol.Reassembler
	seq    uint8
	dict   []byte
	clock  int32
	uptime uint64

	// Silent drops all requests, simulating a dead device.
	Silent bool

	// CorruptNext flips payload bits in the next response so its CRC
	// check fails, simulating a noisy line. Cleared after one use.
	CorruptNext bool

	// OnCommand, when set, is consulted first; returning ok=false falls
	// through to the built-in handlers.
	OnCommand func(cmd int32, args []byte) (respCmd int32, respParams []byte, ok bool)
}

// NewSimDevice serves the given dictionary blob via identify chunking.
func NewSimDevice(dict []byte) *SimDevice {
	return &SimDevice{dict: dict, clock: 1000, uptime: 5_000_000}
}

// SetClock sets the value returned by get_clock exchanges.
func (d *SimDevice) SetClock(v int32) {
	d.mu.Lock()
	d.clock = v
	d.mu.Unlock()
}

// SetUptime sets the tick count returned by get_uptime exchanges.
func (d *SimDevice) SetUptime(v uint64) {
	d.mu.Lock()
	d.uptime = v
	d.mu.Unlock()
}

// Process consumes raw wire bytes from the host and returns the raw wire
// bytes of any responses they trigger.
func (d *SimDevice) Process(in []byte) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []byte
	for _, f := range d.rz.Feed(in) {
		if d.Silent || len(f.Payload) == 0 {
			continue
		}
		cmd, n, err := protocol.DecodeInt(f.Payload, 0)
		if err != nil {
			continue
		}
		resp := d.handle(cmd, f.Payload[n:])
		if d.Silent {
			// An OnCommand hook may have gone silent mid-dispatch; the
			// request that triggered it gets no reply either.
			continue
		}
		out = append(out, resp...)
	}
	return out
}

func (d *SimDevice) handle(cmd int32, args []byte) []byte {
	var respCmd int32
	var params []byte

	if d.OnCommand != nil {
		if c, p, ok := d.OnCommand(cmd, args); ok {
			return d.respond(c, p)
		}
	}

	switch cmd {
	case CmdIdentify:
		offset, n, err := protocol.DecodeInt(args, 0)
		if err != nil {
			return nil
		}
		count, _, err := protocol.DecodeInt(args, n)
		if err != nil {
			return nil
		}
		data := chunkAt(d.dict, int(offset), int(count))
		respCmd = CmdIdentifyResponse
		params = protocol.AppendInt(nil, offset)
		params = protocol.AppendInt(params, int32(len(data)))
		params = append(params, data...)
	case CmdGetClock:
		respCmd = CmdGetClock
		params = protocol.AppendInt(nil, d.clock)
	case CmdGetUptime:
		respCmd = CmdGetUptime
		params = protocol.AppendInt(nil, int32(d.uptime>>32))
		params = protocol.AppendInt(params, int32(d.uptime))
	default:
		// Unknown command: stay quiet, like firmware that predates it.
		return nil
	}
	return d.respond(respCmd, params)
}

func (d *SimDevice) respond(cmd int32, params []byte) []byte {
	wire := protocol.BuildFrame(d.seq, cmd, params)
	d.seq = (d.seq + 1) & protocol.SeqMask
	if d.CorruptNext {
		d.CorruptNext = false
		wire[2] ^= 0x55
	}
	return wire
}

func chunkAt(blob []byte, offset, count int) []byte {
	if offset < 0 || offset >= len(blob) || count <= 0 {
		return nil
	}
	end := offset + count
	if end > len(blob) {
		end = len(blob)
	}
	return blob[offset:end]
}

// SimPort adapts a SimDevice to the Transport interface for in-process
// sessions: writes are handled synchronously and the responses buffered for
// subsequent reads.
type SimPort struct {
	mu          sync.Mutex
	dev         *SimDevice
	pending     []byte
	readTimeout time.Duration

	// MaxRead caps how many bytes one Read returns, exercising chunked
	// delivery. Zero means no cap.
	MaxRead int

	// WriteErr, when set, fails the next Write, simulating transport
	// loss mid-exchange.
	WriteErr error
}

// NewSimPort wires a fresh port to dev.
func NewSimPort(dev *SimDevice) *SimPort {
	return &SimPort{dev: dev, readTimeout: time.Second}
}

func (p *SimPort) Write(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.WriteErr != nil {
		err := p.WriteErr
		p.WriteErr = nil
		return 0, err
	}
	p.pending = append(p.pending, p.dev.Process(buf)...)
	return len(buf), nil
}

func (p *SimPort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	timeout := p.readTimeout
	n := len(p.pending)
	if n > len(buf) {
		n = len(buf)
	}
	if p.MaxRead > 0 && n > p.MaxRead {
		n = p.MaxRead
	}
	if n > 0 {
		copy(buf, p.pending[:n])
		p.pending = p.pending[n:]
		p.mu.Unlock()
		return n, nil
	}
	p.mu.Unlock()
	// Nothing buffered; the simulated device will never speak
	// unprompted, so just let the poll interval elapse.
	time.Sleep(timeout)
	return 0, serial.ErrTimeout
}

func (p *SimPort) SetReadTimeout(d time.Duration) {
	p.mu.Lock()
	p.readTimeout = d
	p.mu.Unlock()
}

// Inject appends raw bytes to the read buffer ahead of any device output,
// simulating line noise or unsolicited data.
func (p *SimPort) Inject(raw []byte) {
	p.mu.Lock()
	p.pending = append(p.pending, raw...)
	p.mu.Unlock()
}
