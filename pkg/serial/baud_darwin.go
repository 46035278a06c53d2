//go:build darwin

package serial

import "golang.org/x/sys/unix"

const (
	ioctlGetTermios = unix.TIOCGETA
	ioctlSetTermios = unix.TIOCSETA
	ioctlTCFlush    = unix.TIOCFLUSH
)

// setBaud programs a placeholder standard rate; the real rate is applied
// afterwards with IOSSIOSPEED, which accepts arbitrary values.
func setBaud(termios *unix.Termios, baud int) int {
	termios.Ispeed = unix.B9600
	termios.Ospeed = unix.B9600
	return baud
}

// setCustomBaud applies an arbitrary rate via the IOSSIOSPEED ioctl
// (_IOW('T', 2, speed_t)).
func setCustomBaud(fd int, baud int) error {
	const iossiospeed = 0x80045402
	return unix.IoctlSetPointerInt(fd, iossiospeed, baud)
}
