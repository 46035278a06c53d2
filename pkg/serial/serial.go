// Package serial provides the raw byte-stream transport to the device: a
// POSIX serial port in 8N1 raw mode with per-call read timeouts. The
// protocol layers above only require io.ReadWriter plus SetReadTimeout, so
// anything byte-stream shaped can stand in for a Port.
package serial

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

var (
	ErrTimeout = errors.New("serial: read timed out")
	ErrClosed  = errors.New("serial: port closed")
)

// Config holds the options needed to open a port.
type Config struct {
	// Device is the port path, e.g. /dev/ttyACM0.
	Device string

	// Baud is the line rate. Defaults to 250000, the firmware's default.
	Baud int

	// ReadTimeout bounds each Read call. Defaults to 5s; Roundtrip-style
	// callers override it per poll via SetReadTimeout.
	ReadTimeout time.Duration

	// RTSOnConnect and DTROnConnect assert the modem-control lines after
	// opening. Many MCU boards use DTR as a reset strobe.
	RTSOnConnect bool
	DTROnConnect bool
}

// DefaultConfig returns the options used when talking to stock firmware.
func DefaultConfig() Config {
	return Config{
		Baud:         250000,
		ReadTimeout:  5 * time.Second,
		RTSOnConnect: true,
		DTROnConnect: true,
	}
}

// Port is an open serial device.
type Port struct {
	mu          sync.Mutex
	fd          int
	device      string
	readTimeout time.Duration
	closed      bool
	oldTermios  *unix.Termios
}

// Open opens and configures the device for raw 8N1 communication.
func Open(cfg Config) (*Port, error) {
	if cfg.Device == "" {
		return nil, errors.New("serial: device path required")
	}
	if cfg.Baud == 0 {
		cfg.Baud = 250000
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 5 * time.Second
	}

	fd, err := unix.Open(cfg.Device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", cfg.Device, err)
	}

	oldTermios, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("serial: get termios: %w", err)
	}

	termios := *oldTermios
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF | unix.IXANY
	termios.Oflag &^= unix.OPOST
	termios.Cflag &^= unix.CSIZE | unix.PARENB | unix.PARODD | unix.CSTOPB
	termios.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cc[unix.VMIN] = 0
	termios.Cc[unix.VTIME] = 1

	customBaud := setBaud(&termios, cfg.Baud)

	if err := unix.IoctlSetTermios(fd, ioctlSetTermios, &termios); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("serial: set termios: %w", err)
	}
	if customBaud > 0 {
		if err := setCustomBaud(fd, customBaud); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("serial: set custom baud: %w", err)
		}
	}
	if err := unix.SetNonblock(fd, false); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("serial: set blocking: %w", err)
	}

	p := &Port{
		fd:          fd,
		device:      cfg.Device,
		readTimeout: cfg.ReadTimeout,
		oldTermios:  oldTermios,
	}
	p.setModemControl(cfg.RTSOnConnect, cfg.DTROnConnect)
	return p, nil
}

// Read reads up to len(buf) bytes, waiting at most the configured read
// timeout for the first byte. It returns ErrTimeout when nothing arrived.
func (p *Port) Read(buf []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrClosed
	}
	fd := p.fd
	timeout := p.readTimeout
	p.mu.Unlock()

	pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(pfd, int(timeout.Milliseconds()))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, fmt.Errorf("serial: poll: %w", err)
	}
	if n == 0 {
		return 0, ErrTimeout
	}
	if pfd[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
		return 0, fmt.Errorf("serial: %s: %w", p.device, ErrClosed)
	}
	n, err = unix.Read(fd, buf)
	if err != nil {
		return 0, fmt.Errorf("serial: read: %w", err)
	}
	return n, nil
}

// Write writes buf to the port.
func (p *Port) Write(buf []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrClosed
	}
	fd := p.fd
	p.mu.Unlock()

	n, err := unix.Write(fd, buf)
	if err != nil {
		return 0, fmt.Errorf("serial: write: %w", err)
	}
	return n, nil
}

// SetReadTimeout changes how long subsequent Reads wait for data.
func (p *Port) SetReadTimeout(d time.Duration) {
	p.mu.Lock()
	p.readTimeout = d
	p.mu.Unlock()
}

// Flush discards pending input and output.
func (p *Port) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	return unix.IoctlSetInt(p.fd, ioctlTCFlush, unix.TCIOFLUSH)
}

// Close restores the saved termios state and closes the descriptor.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.oldTermios != nil {
		_ = unix.IoctlSetTermios(p.fd, ioctlSetTermios, p.oldTermios)
	}
	return unix.Close(p.fd)
}

// Device returns the path the port was opened with.
func (p *Port) Device() string {
	return p.device
}

// setModemControl asserts or clears RTS/DTR. Adapters without modem-control
// support fail the ioctl; that is not fatal.
func (p *Port) setModemControl(rts, dtr bool) {
	var status int32
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(p.fd), uintptr(unix.TIOCMGET), uintptr(unsafe.Pointer(&status)))
	if errno != 0 {
		return
	}
	if rts {
		status |= unix.TIOCM_RTS
	} else {
		status &^= unix.TIOCM_RTS
	}
	if dtr {
		status |= unix.TIOCM_DTR
	} else {
		status &^= unix.TIOCM_DTR
	}
	unix.Syscall(unix.SYS_IOCTL, uintptr(p.fd), uintptr(unix.TIOCMSET), uintptr(unsafe.Pointer(&status)))
}

// ListPorts returns candidate serial device paths, symlinks resolved and
// deduplicated.
func ListPorts() ([]string, error) {
	var patterns []string
	switch runtime.GOOS {
	case "linux":
		patterns = []string{
			"/dev/ttyUSB*",
			"/dev/ttyACM*",
			"/dev/serial/by-id/*",
		}
	case "darwin":
		patterns = []string{
			"/dev/tty.usbserial*",
			"/dev/tty.usbmodem*",
			"/dev/cu.usbserial*",
			"/dev/cu.usbmodem*",
		}
	default:
		return nil, fmt.Errorf("serial: unsupported platform %s", runtime.GOOS)
	}

	seen := map[string]bool{}
	var ports []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		for _, m := range matches {
			resolved, err := filepath.EvalSymlinks(m)
			if err != nil {
				resolved = m
			}
			if !seen[resolved] {
				seen[resolved] = true
				ports = append(ports, resolved)
			}
		}
	}
	sort.Strings(ports)
	return ports, nil
}

// IsDeviceAvailable reports whether device exists, is a character device,
// and can be opened.
func IsDeviceAvailable(device string) bool {
	info, err := os.Stat(device)
	if err != nil || info.Mode()&os.ModeCharDevice == 0 {
		return false
	}
	fd, err := unix.Open(device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return false
	}
	unix.Close(fd)
	return true
}
