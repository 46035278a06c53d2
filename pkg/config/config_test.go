package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mculink.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFull(t *testing.T) {
	path := writeConfig(t, `
device = "/dev/ttyACM0"
baud = 115200
exchange_timeout = "500ms"
chunk_size = 64
max_retries = 3
retry_delay = "20ms"
boot_delay = "2s"
log_level = "debug"
metrics_addr = ":9101"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Device != "/dev/ttyACM0" || cfg.Baud != 115200 {
		t.Fatalf("device/baud: %+v", cfg)
	}
	if cfg.ExchangeTimeout != 500*time.Millisecond {
		t.Fatalf("exchange_timeout=%v", cfg.ExchangeTimeout)
	}
	if cfg.ChunkSize != 64 || cfg.MaxRetries != 3 {
		t.Fatalf("chunk/retries: %+v", cfg)
	}
	if cfg.BootDelay != 2*time.Second {
		t.Fatalf("boot_delay=%v", cfg.BootDelay)
	}
	if cfg.LogLevel != "debug" || cfg.MetricsAddr != ":9101" {
		t.Fatalf("log/metrics: %+v", cfg)
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `device = "/dev/ttyUSB1"`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	def := Default()
	if cfg.Device != "/dev/ttyUSB1" {
		t.Fatalf("device=%q", cfg.Device)
	}
	if cfg.Baud != def.Baud || cfg.ChunkSize != def.ChunkSize || cfg.ExchangeTimeout != def.ExchangeTimeout {
		t.Fatalf("defaults not preserved: %+v", cfg)
	}
}

func TestLoadBadDuration(t *testing.T) {
	path := writeConfig(t, `exchange_timeout = "soon"`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for bad duration")
	}
}

func TestLoadBadValues(t *testing.T) {
	for _, body := range []string{
		`baud = -9600`,
		`chunk_size = 0`,
		`chunk_size = 1000`,
		`max_retries = -1`,
	} {
		path := writeConfig(t, body)
		if _, err := Load(path); err == nil {
			t.Fatalf("expected error for %q", body)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/mculink.toml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
