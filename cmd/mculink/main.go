// mculink is a diagnostic tool for MCU firmware speaking the serial link
// protocol: it fetches the device's data dictionary, queries its clock and
// uptime, and lists candidate serial ports.
//
// Usage:
//
//	mculink identify --device /dev/ttyACM0
//	mculink clock --device /dev/ttyACM0 --baud 115200
//	mculink uptime --config ~/.config/mculink.toml
//	mculink ports
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"mculink-host/pkg/config"
	"mculink-host/pkg/mcu"
	"mculink-host/pkg/metrics"
	"mculink-host/pkg/serial"
)

var (
	flagConfig      string
	flagDevice      string
	flagBaud        int
	flagTimeout     time.Duration
	flagVerbose     bool
	flagMetricsAddr string
)

var rootCmd = &cobra.Command{
	Use:           "mculink",
	Short:         "Talk to MCU firmware over its serial link protocol",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "TOML config file")
	pf.StringVar(&flagDevice, "device", "", "serial device path (e.g. /dev/ttyACM0)")
	pf.IntVar(&flagBaud, "baud", 0, "serial baud rate")
	pf.DurationVar(&flagTimeout, "timeout", 0, "per-exchange timeout")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "log frames at debug level")
	pf.StringVar(&flagMetricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")

	rootCmd.AddCommand(identifyCmd, clockCmd, uptimeCmd, portsCmd)
}

// resolveConfig merges the config file (if any) with command-line overrides.
func resolveConfig() (config.Config, error) {
	cfg := config.Default()
	if flagConfig != "" {
		var err error
		cfg, err = config.Load(flagConfig)
		if err != nil {
			return config.Config{}, err
		}
	}
	if flagDevice != "" {
		cfg.Device = flagDevice
	}
	if flagBaud != 0 {
		cfg.Baud = flagBaud
	}
	if flagTimeout != 0 {
		cfg.ExchangeTimeout = flagTimeout
	}
	if flagVerbose {
		cfg.LogLevel = "debug"
	}
	if flagMetricsAddr != "" {
		cfg.MetricsAddr = flagMetricsAddr
	}
	return cfg, nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(lvl).
		With().Timestamp().Logger()
}

// openSession opens the serial port and wraps it in a session. The returned
// cleanup closes the port and stops the metrics server, if one was started.
func openSession(cfg config.Config, log zerolog.Logger) (*mcu.Session, func(), error) {
	if cfg.Device == "" {
		return nil, nil, fmt.Errorf("no serial device: pass --device or set it in the config file")
	}

	scfg := serial.DefaultConfig()
	scfg.Device = cfg.Device
	scfg.Baud = cfg.Baud
	port, err := serial.Open(scfg)
	if err != nil {
		return nil, nil, err
	}
	log.Info().Str("device", cfg.Device).Int("baud", cfg.Baud).Msg("port opened")

	cleanup := func() { port.Close() }

	var stats *metrics.LinkStats
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		stats = metrics.NewLinkStats(reg)
		srv := metrics.NewServer(cfg.MetricsAddr, reg)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn().Err(err).Msg("metrics server stopped")
			}
		}()
		log.Info().Str("addr", cfg.MetricsAddr).Msg("serving metrics")
		prev := cleanup
		cleanup = func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			srv.Shutdown(ctx)
			cancel()
			prev()
		}
	}

	// A board that resets on DTR needs a moment before it will answer.
	if cfg.BootDelay > 0 {
		time.Sleep(cfg.BootDelay)
	}

	session := mcu.NewSession(port, mcu.Config{
		ExchangeTimeout: cfg.ExchangeTimeout,
		ChunkSize:       cfg.ChunkSize,
		MaxRetries:      cfg.MaxRetries,
		RetryDelay:      cfg.RetryDelay,
		Logger:          log,
		Stats:           stats,
	})
	return session, cleanup, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
