package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"mculink-host/pkg/protocol"
)

func TestLinkStatsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewLinkStats(reg)

	s.AddBytesRead(10)
	s.AddBytesWritten(7)
	s.FrameReceived()
	s.FrameSent()
	s.ExchangeStarted()
	s.ExchangeTimeout()
	s.Resync(4, protocol.ErrCrcMismatch)
	s.Resync(2, protocol.ErrMissingSync)

	if got := testutil.ToFloat64(s.bytesRead); got != 10 {
		t.Fatalf("bytes_read=%v want 10", got)
	}
	if got := testutil.ToFloat64(s.discardBytes); got != 6 {
		t.Fatalf("discarded bytes=%v want 6", got)
	}
	if got := testutil.ToFloat64(s.discards.WithLabelValues("crc")); got != 1 {
		t.Fatalf("crc resyncs=%v want 1", got)
	}
	if got := testutil.ToFloat64(s.discards.WithLabelValues("sync")); got != 1 {
		t.Fatalf("sync resyncs=%v want 1", got)
	}
}

func TestLinkStatsNilSafe(t *testing.T) {
	var s *LinkStats
	s.AddBytesRead(1)
	s.FrameReceived()
	s.ExchangeTimeout()
	s.Resync(3, protocol.ErrFrameLength)
}
