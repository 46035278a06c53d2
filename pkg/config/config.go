// Package config loads the CLI's TOML configuration. Keys present in the
// file override defaults; absent keys keep them.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the resolved tool configuration.
type Config struct {
	// Device is the serial port path. No default; required unless given
	// on the command line.
	Device string

	// Baud is the serial line rate.
	Baud int

	// ExchangeTimeout bounds one request/response exchange.
	ExchangeTimeout time.Duration

	// ChunkSize is the dictionary fetch page size.
	ChunkSize int

	// MaxRetries caps retransmissions of a timed-out dictionary exchange.
	MaxRetries int

	// RetryDelay is the initial retransmission backoff.
	RetryDelay time.Duration

	// BootDelay is how long to wait after opening the port before the
	// first exchange, giving a freshly reset MCU time to come up.
	BootDelay time.Duration

	// LogLevel is a zerolog level name: debug, info, warn, error.
	LogLevel string

	// MetricsAddr, when non-empty, serves prometheus metrics there.
	MetricsAddr string
}

// Default returns the settings used against stock firmware.
func Default() Config {
	return Config{
		Baud:            250000,
		ExchangeTimeout: 2 * time.Second,
		ChunkSize:       40,
		MaxRetries:      5,
		RetryDelay:      10 * time.Millisecond,
		BootDelay:       100 * time.Millisecond,
		LogLevel:        "info",
	}
}

// fileConfig is the raw TOML key mapping; durations are strings in
// time.ParseDuration syntax.
type fileConfig struct {
	Device          string `toml:"device"`
	Baud            int    `toml:"baud"`
	ExchangeTimeout string `toml:"exchange_timeout"`
	ChunkSize       int    `toml:"chunk_size"`
	MaxRetries      int    `toml:"max_retries"`
	RetryDelay      string `toml:"retry_delay"`
	BootDelay       string `toml:"boot_delay"`
	LogLevel        string `toml:"log_level"`
	MetricsAddr     string `toml:"metrics_addr"`
}

// Load reads path and overlays its keys on the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	if meta.IsDefined("device") {
		cfg.Device = strings.TrimSpace(raw.Device)
	}
	if meta.IsDefined("baud") {
		cfg.Baud = raw.Baud
	}
	if meta.IsDefined("exchange_timeout") {
		if cfg.ExchangeTimeout, err = parseDuration("exchange_timeout", raw.ExchangeTimeout); err != nil {
			return Config{}, err
		}
	}
	if meta.IsDefined("chunk_size") {
		cfg.ChunkSize = raw.ChunkSize
	}
	if meta.IsDefined("max_retries") {
		cfg.MaxRetries = raw.MaxRetries
	}
	if meta.IsDefined("retry_delay") {
		if cfg.RetryDelay, err = parseDuration("retry_delay", raw.RetryDelay); err != nil {
			return Config{}, err
		}
	}
	if meta.IsDefined("boot_delay") {
		if cfg.BootDelay, err = parseDuration("boot_delay", raw.BootDelay); err != nil {
			return Config{}, err
		}
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Baud <= 0 {
		return fmt.Errorf("config: baud must be positive, got %d", c.Baud)
	}
	if c.ChunkSize <= 0 || c.ChunkSize > 255 {
		return fmt.Errorf("config: chunk_size must be in 1..255, got %d", c.ChunkSize)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("config: max_retries must not be negative, got %d", c.MaxRetries)
	}
	return nil
}

func parseDuration(key, val string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(val))
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}
