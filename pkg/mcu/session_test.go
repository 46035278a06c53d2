package mcu

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mculink-host/pkg/protocol"
)

func fastConfig() Config {
	return Config{
		ExchangeTimeout: 100 * time.Millisecond,
		PollInterval:    5 * time.Millisecond,
		ChunkSize:       5,
		MaxRetries:      2,
		RetryDelay:      time.Millisecond,
	}
}

func TestRoundtripClock(t *testing.T) {
	dev := NewSimDevice(nil)
	dev.SetClock(123456)
	s := NewSession(NewSimPort(dev), fastConfig())

	clock, err := s.GetClock()
	require.NoError(t, err)
	require.Equal(t, int32(123456), clock)
}

func TestRoundtripUptime(t *testing.T) {
	dev := NewSimDevice(nil)
	dev.SetUptime(0x1_0000_03e8) // high word 1, low word 1000
	s := NewSession(NewSimPort(dev), fastConfig())

	uptime, err := s.GetUptime()
	require.NoError(t, err)
	require.Equal(t, uint64(0x1_0000_03e8), uptime)
}

func TestSequenceAdvancesModulo16(t *testing.T) {
	dev := NewSimDevice(nil)
	s := NewSession(NewSimPort(dev), fastConfig())

	for i := 0; i < 20; i++ {
		_, err := s.GetClock()
		require.NoError(t, err)
	}
	require.Equal(t, uint8(20&protocol.SeqMask), s.seq)
}

func TestSequenceAdvancesOnTimeout(t *testing.T) {
	dev := NewSimDevice(nil)
	dev.Silent = true
	s := NewSession(NewSimPort(dev), fastConfig())

	_, err := s.Roundtrip(CmdGetClock, nil, 30*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
	require.Equal(t, uint8(1), s.seq)
}

func TestRoundtripTimeoutDuration(t *testing.T) {
	dev := NewSimDevice(nil)
	dev.Silent = true
	s := NewSession(NewSimPort(dev), fastConfig())

	start := time.Now()
	_, err := s.Roundtrip(CmdGetClock, nil, 50*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestRoundtripTransportError(t *testing.T) {
	dev := NewSimDevice(nil)
	port := NewSimPort(dev)
	port.WriteErr = errors.New("cable yanked")
	s := NewSession(port, fastConfig())

	_, err := s.GetClock()
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrTimeout)
}

func TestRoundtripChunkedDelivery(t *testing.T) {
	dev := NewSimDevice(nil)
	dev.SetClock(-42)
	port := NewSimPort(dev)
	port.MaxRead = 1 // one byte per read
	s := NewSession(port, fastConfig())

	clock, err := s.GetClock()
	require.NoError(t, err)
	require.Equal(t, int32(-42), clock)
}

func TestFetchDictionary(t *testing.T) {
	dev := NewSimDevice([]byte("HELLOWORLD"))
	s := NewSession(NewSimPort(dev), fastConfig())

	blob, err := s.FetchDictionary()
	require.NoError(t, err)
	require.Equal(t, "HELLOWORLD", string(blob))
}

func TestFetchDictionaryShortFinalChunk(t *testing.T) {
	dev := NewSimDevice([]byte("HELLOWORLD!"))
	var identifies int
	dev.OnCommand = func(cmd int32, args []byte) (int32, []byte, bool) {
		if cmd == CmdIdentify {
			identifies++
		}
		return 0, nil, false
	}
	s := NewSession(NewSimPort(dev), fastConfig())

	blob, err := s.FetchDictionary()
	require.NoError(t, err)
	require.Equal(t, "HELLOWORLD!", string(blob))
	// The 1-byte final chunk ends the loop without an extra empty round.
	require.Equal(t, 3, identifies)
}

func TestFetchDictionaryDeadDevice(t *testing.T) {
	dev := NewSimDevice([]byte("HELLOWORLD"))
	dev.Silent = true
	cfg := fastConfig()
	cfg.ExchangeTimeout = 20 * time.Millisecond
	s := NewSession(NewSimPort(dev), cfg)

	blob, err := s.FetchDictionary()
	require.NoError(t, err)
	require.Empty(t, blob)
}

func TestFetchDictionaryPartialOnTimeout(t *testing.T) {
	dev := NewSimDevice([]byte("HELLOWORLD"))
	served := 0
	dev.OnCommand = func(cmd int32, args []byte) (int32, []byte, bool) {
		if cmd == CmdIdentify {
			served++
			if served > 1 {
				dev.Silent = true
			}
		}
		return 0, nil, false
	}
	cfg := fastConfig()
	cfg.ExchangeTimeout = 20 * time.Millisecond
	s := NewSession(NewSimPort(dev), cfg)

	blob, err := s.FetchDictionary()
	require.NoError(t, err)
	require.Equal(t, "HELLO", string(blob))
}

func TestSilencedDuringDispatchSuppressesReply(t *testing.T) {
	dev := NewSimDevice([]byte("ABC"))
	dev.OnCommand = func(cmd int32, args []byte) (int32, []byte, bool) {
		dev.Silent = true
		return 0, nil, false
	}

	wire := protocol.BuildFrame(0, CmdGetClock, nil)
	require.Empty(t, dev.Process(wire))

	// Still silent for later requests too.
	wire = protocol.BuildFrame(1, CmdGetUptime, nil)
	require.Empty(t, dev.Process(wire))
}

func TestFetchDictionaryRecoversFromCorruptReply(t *testing.T) {
	dev := NewSimDevice([]byte("HELLOWORLD"))
	dev.CorruptNext = true
	cfg := fastConfig()
	cfg.ExchangeTimeout = 20 * time.Millisecond
	s := NewSession(NewSimPort(dev), cfg)

	blob, err := s.FetchDictionary()
	require.NoError(t, err)
	require.Equal(t, "HELLOWORLD", string(blob))
}

func TestReassemblyBufferRetainedAcrossTimeout(t *testing.T) {
	dev := NewSimDevice(nil)
	dev.Silent = true
	port := NewSimPort(dev)
	cfg := fastConfig()
	s := NewSession(port, cfg)

	late := protocol.BuildFrame(0, CmdGetClock, protocol.AppendInt(nil, 777))

	// First exchange only ever sees the front half of the delayed reply.
	port.Inject(late[:3])
	_, err := s.Roundtrip(CmdGetClock, nil, 20*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)

	// The rest arrives before the next exchange, which must complete the
	// frame from the retained buffer instead of dropping the front half.
	port.Inject(late[3:])
	resp, err := s.Roundtrip(CmdGetClock, nil, 100*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, int32(CmdGetClock), resp.Cmd)
	v, _, err := protocol.DecodeInt(resp.Payload, 0)
	require.NoError(t, err)
	require.Equal(t, int32(777), v)
}

func TestAckOnlyFramesSkipped(t *testing.T) {
	dev := NewSimDevice(nil)
	dev.SetClock(9)
	port := NewSimPort(dev)
	// An ack block (empty payload) queued ahead of the real response
	// must not satisfy the exchange.
	ack := []byte{protocol.FrameMin, protocol.FrameDest | 5}
	crc := protocol.CRC16(ack)
	ack = append(ack, byte(crc>>8), byte(crc), protocol.FrameSync)
	port.Inject(ack)
	s := NewSession(port, fastConfig())

	clock, err := s.GetClock()
	require.NoError(t, err)
	require.Equal(t, int32(9), clock)
}
