// Package mcu drives the request/response protocol over a byte-stream
// transport: one outgoing sequence counter, one exchange in flight at a
// time, and the chunked identify retrieval layered on top.
package mcu

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"mculink-host/pkg/metrics"
	"mculink-host/pkg/protocol"
	"mculink-host/pkg/serial"
)

// ErrTimeout is the distinguished no-response outcome of an exchange. It is
// not fatal: callers like FetchDictionary treat it as "stop, keep what we
// have".
var ErrTimeout = errors.New("mcu: exchange timed out")

// Well-known command ids from the firmware's bootstrap command table.
const (
	CmdIdentifyResponse = 0
	CmdIdentify         = 1
	CmdGetUptime        = 2
	CmdGetClock         = 3
)

// Transport is the injected byte stream to the device. Bytes must arrive in
// transmit order but may be chunked arbitrarily; Read returns
// serial.ErrTimeout when the timeout set by SetReadTimeout expires with
// nothing received.
type Transport interface {
	io.ReadWriter
	SetReadTimeout(d time.Duration)
}

// Config tunes exchange behavior.
type Config struct {
	// ExchangeTimeout bounds one send-and-await round. Default 2s.
	ExchangeTimeout time.Duration

	// PollInterval is the transport read granularity while awaiting a
	// response. Default 100ms.
	PollInterval time.Duration

	// ChunkSize is the per-round byte count requested during dictionary
	// retrieval. Default 40.
	ChunkSize int

	// MaxRetries is how many times a timed-out dictionary exchange is
	// retransmitted before the fetch loop gives up. Default 5.
	MaxRetries int

	// RetryDelay is the initial backoff between retries; it doubles each
	// attempt. Default 10ms.
	RetryDelay time.Duration

	// Logger receives link-level diagnostics. Zero value logs nothing.
	Logger zerolog.Logger

	// Stats, when non-nil, receives link-health counters.
	Stats *metrics.LinkStats
}

// DefaultConfig returns the tuning used against stock firmware.
func DefaultConfig() Config {
	return Config{
		ExchangeTimeout: 2 * time.Second,
		PollInterval:    100 * time.Millisecond,
		ChunkSize:       40,
		MaxRetries:      5,
		RetryDelay:      10 * time.Millisecond,
		Logger:          zerolog.Nop(),
	}
}

// Response is one decoded inbound message: the leading VLQ of the frame
// payload and whatever followed it.
type Response struct {
	Cmd     int32
	Payload []byte
}

// Session owns the outgoing sequence counter and the reassembly buffer for
// one connection. It is strictly half duplex: one exchange outstanding at a
// time, and it must not be used from more than one goroutine.
type Session struct {
	tr      Transport
	cfg     Config
	log     zerolog.Logger
	stats   *metrics.LinkStats
	seq     uint8
	rz      protocol.Reassembler
	queued  []protocol.Frame
	readBuf []byte
}

// NewSession wraps a transport. Zero Config fields fall back to defaults.
func NewSession(tr Transport, cfg Config) *Session {
	def := DefaultConfig()
	if cfg.ExchangeTimeout == 0 {
		cfg.ExchangeTimeout = def.ExchangeTimeout
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	s := &Session{
		tr:      tr,
		cfg:     cfg,
		log:     cfg.Logger,
		stats:   cfg.Stats,
		readBuf: make([]byte, 4096),
	}
	s.rz.OnDiscard = func(garbage []byte, reason error) {
		s.stats.Resync(len(garbage), reason)
		s.log.Debug().
			Err(reason).
			Hex("discarded", garbage).
			Msg("resynchronized on sync byte")
	}
	return s
}

// Roundtrip transmits one command frame and blocks until the next inbound
// frame with a non-empty payload arrives or timeout elapses (ErrTimeout).
// The sequence counter advances after every transmission regardless of the
// outcome. There is no sequence correlation on the response: the protocol
// is half duplex and any well-formed reply is the reply.
func (s *Session) Roundtrip(cmd int32, params []byte, timeout time.Duration) (*Response, error) {
	if timeout == 0 {
		timeout = s.cfg.ExchangeTimeout
	}
	wire := protocol.BuildFrame(s.seq, cmd, params)
	s.log.Debug().
		Uint8("seq", s.seq).
		Int32("cmd", cmd).
		Hex("frame", wire).
		Msg("send")

	_, err := s.tr.Write(wire)
	s.seq = (s.seq + 1) & protocol.SeqMask
	if err != nil {
		return nil, fmt.Errorf("mcu: send command %d: %w", cmd, err)
	}
	s.stats.ExchangeStarted()
	s.stats.FrameSent()
	s.stats.AddBytesWritten(len(wire))

	return s.await(timeout)
}

// await pumps the transport through the reassembler until a frame carrying
// a payload shows up. Ack-only frames (empty payload) are skipped. The
// reassembly buffer persists across calls, so a response that arrives after
// its exchange timed out is still picked up by the next exchange.
func (s *Session) await(timeout time.Duration) (*Response, error) {
	deadline := time.Now().Add(timeout)
	for {
		for len(s.queued) > 0 {
			f := s.queued[0]
			s.queued = s.queued[1:]
			if len(f.Payload) == 0 {
				continue
			}
			cmd, n, err := protocol.DecodeInt(f.Payload, 0)
			if err != nil {
				s.log.Debug().Hex("payload", f.Payload).Msg("undecodable response id, dropping frame")
				continue
			}
			s.log.Debug().
				Uint8("seq", f.Seq).
				Int32("cmd", cmd).
				Hex("payload", f.Payload[n:]).
				Msg("recv")
			return &Response{Cmd: cmd, Payload: f.Payload[n:]}, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			s.stats.ExchangeTimeout()
			return nil, ErrTimeout
		}
		poll := s.cfg.PollInterval
		if remaining < poll {
			poll = remaining
		}
		s.tr.SetReadTimeout(poll)
		n, err := s.tr.Read(s.readBuf)
		if err != nil {
			if errors.Is(err, serial.ErrTimeout) {
				continue
			}
			return nil, fmt.Errorf("mcu: read: %w", err)
		}
		if n == 0 {
			continue
		}
		s.stats.AddBytesRead(n)
		frames := s.rz.Feed(s.readBuf[:n])
		for range frames {
			s.stats.FrameReceived()
		}
		s.queued = append(s.queued, frames...)
	}
}

// GetClock queries the device's 32-bit clock counter.
func (s *Session) GetClock() (int32, error) {
	resp, err := s.Roundtrip(CmdGetClock, nil, 0)
	if err != nil {
		return 0, err
	}
	clock, _, err := protocol.DecodeInt(resp.Payload, 0)
	if err != nil {
		return 0, fmt.Errorf("mcu: decode clock: %w", err)
	}
	return clock, nil
}

// GetUptime queries the device's 64-bit uptime tick counter, transmitted as
// two VLQ halves, high word first.
func (s *Session) GetUptime() (uint64, error) {
	resp, err := s.Roundtrip(CmdGetUptime, nil, 0)
	if err != nil {
		return 0, err
	}
	high, n, err := protocol.DecodeInt(resp.Payload, 0)
	if err != nil {
		return 0, fmt.Errorf("mcu: decode uptime high: %w", err)
	}
	low, _, err := protocol.DecodeInt(resp.Payload, n)
	if err != nil {
		return 0, fmt.Errorf("mcu: decode uptime low: %w", err)
	}
	return uint64(uint32(high))<<32 | uint64(uint32(low)), nil
}
