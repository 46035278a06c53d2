// mock-mcu serves a simulated MCU on a unix socket so the mculink tool and
// integration scripts can be exercised without hardware. Point a client at the
// socket with e.g. `socat` or connect directly and speak the frame protocol.
package main

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"errors"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"mculink-host/pkg/mcu"
)

var (
	socketPath = flag.String("socket", "/tmp/mock-mcu.sock", "unix socket path to listen on")
	version    = flag.String("version", "mock-mcu-0.1", "version string reported in the dictionary")
	verbose    = flag.Bool("v", false, "log traffic at debug level")
)

func buildDictionary(version string) ([]byte, error) {
	dict := map[string]any{
		"version":        version,
		"build_versions": "sim",
		"commands": map[string]int{
			"identify offset=%u count=%c": 1,
			"get_uptime":                  2,
			"get_clock":                   3,
		},
		"responses": map[string]int{
			"identify_response offset=%u data=%.*s": 0,
			"uptime high=%u clock=%u":               4,
			"clock clock=%u":                        5,
		},
		"enumerations": map[string]any{
			"pin": map[string]any{
				"PA0": []int{0, 8},
				"PB0": []int{8, 8},
			},
		},
		"config": map[string]any{
			"CLOCK_FREQ": 16000000,
		},
	}
	raw, err := json.Marshal(dict)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// serve runs one connection: every chunk of bytes read goes through the
// simulated device, and whatever frames it produces go straight back.
func serve(conn net.Conn, dev *mcu.SimDevice, log zerolog.Logger) {
	defer conn.Close()
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				log.Debug().Err(err).Msg("connection closed")
			}
			return
		}
		log.Debug().Int("bytes", n).Msg("rx")
		out := dev.Process(buf[:n])
		if len(out) == 0 {
			continue
		}
		if _, err := conn.Write(out); err != nil {
			log.Warn().Err(err).Msg("write failed")
			return
		}
		log.Debug().Int("bytes", len(out)).Msg("tx")
	}
}

func main() {
	flag.Parse()

	lvl := zerolog.InfoLevel
	if *verbose {
		lvl = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(lvl).
		With().Timestamp().Logger()

	dict, err := buildDictionary(*version)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot build dictionary")
	}

	os.Remove(*socketPath)
	ln, err := net.Listen("unix", *socketPath)
	if err != nil {
		log.Fatal().Err(err).Str("socket", *socketPath).Msg("cannot listen")
	}
	log.Info().Str("socket", *socketPath).Msg("listening")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		ln.Close()
		os.Remove(*socketPath)
		os.Exit(0)
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Fatal().Err(err).Msg("accept failed")
		}
		log.Info().Msg("client connected")
		// One device per connection: each client gets a fresh sequence
		// counter and reassembly state.
		go serve(conn, mcu.NewSimDevice(dict), log)
	}
}
