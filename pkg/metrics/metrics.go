// Package metrics exposes link-health counters for the MCU serial link.
//
// The counters make the failure modes distinguishable from the outside:
// a dead device shows up as timeouts with no frames, a garbled link as
// frames plus CRC discards, a misbehaving device as frames with short
// payloads.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"mculink-host/pkg/protocol"
)

// LinkStats collects counters for one serial link. A nil *LinkStats is
// valid and records nothing, so callers never have to guard.
type LinkStats struct {
	bytesRead    prometheus.Counter
	bytesWritten prometheus.Counter
	framesIn     prometheus.Counter
	framesOut    prometheus.Counter
	exchanges    prometheus.Counter
	timeouts     prometheus.Counter
	retries      prometheus.Counter
	shortChunks  prometheus.Counter
	discardBytes prometheus.Counter
	discards     *prometheus.CounterVec
}

// NewLinkStats creates the counter set and registers it with reg.
func NewLinkStats(reg prometheus.Registerer) *LinkStats {
	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mculink",
			Name:      name,
			Help:      help,
		})
		reg.MustRegister(c)
		return c
	}
	s := &LinkStats{
		bytesRead:    counter("bytes_read_total", "Bytes read from the transport"),
		bytesWritten: counter("bytes_written_total", "Bytes written to the transport"),
		framesIn:     counter("frames_received_total", "Validated frames extracted from the stream"),
		framesOut:    counter("frames_sent_total", "Frames transmitted"),
		exchanges:    counter("exchanges_total", "Request/response exchanges attempted"),
		timeouts:     counter("exchange_timeouts_total", "Exchanges that ended without a response"),
		retries:      counter("exchange_retries_total", "Exchange retransmissions after a timeout"),
		shortChunks:  counter("dictionary_short_payloads_total", "Dictionary responses with an undecodable payload"),
		discardBytes: counter("resync_discarded_bytes_total", "Bytes dropped while resynchronizing on the sync byte"),
	}
	s.discards = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mculink",
		Name:      "resync_events_total",
		Help:      "Resynchronization events by parse failure reason",
	}, []string{"reason"})
	reg.MustRegister(s.discards)
	return s
}

func (s *LinkStats) AddBytesRead(n int) {
	if s != nil {
		s.bytesRead.Add(float64(n))
	}
}

func (s *LinkStats) AddBytesWritten(n int) {
	if s != nil {
		s.bytesWritten.Add(float64(n))
	}
}

func (s *LinkStats) FrameReceived() {
	if s != nil {
		s.framesIn.Inc()
	}
}

func (s *LinkStats) FrameSent() {
	if s != nil {
		s.framesOut.Inc()
	}
}

func (s *LinkStats) ExchangeStarted() {
	if s != nil {
		s.exchanges.Inc()
	}
}

func (s *LinkStats) ExchangeTimeout() {
	if s != nil {
		s.timeouts.Inc()
	}
}

func (s *LinkStats) ExchangeRetried() {
	if s != nil {
		s.retries.Inc()
	}
}

func (s *LinkStats) ShortChunk() {
	if s != nil {
		s.shortChunks.Inc()
	}
}

// Resync records one resynchronization event: n discarded bytes and the
// parse failure that triggered it.
func (s *LinkStats) Resync(n int, reason error) {
	if s == nil {
		return
	}
	s.discardBytes.Add(float64(n))
	label := "other"
	switch {
	case errors.Is(reason, protocol.ErrCrcMismatch):
		label = "crc"
	case errors.Is(reason, protocol.ErrMissingSync):
		label = "sync"
	case errors.Is(reason, protocol.ErrFrameLength):
		label = "length"
	}
	s.discards.WithLabelValues(label).Inc()
}
