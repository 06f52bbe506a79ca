//go:build !windows

package serial

import (
	"os"

	"golang.org/x/sys/unix"
)

// osPort wraps a raw file descriptor configured via termios, used for
// production (non-test) serial sessions on Unix.
type osPort struct {
	f *os.File
}

func (p *osPort) Read(b []byte) (int, error)  { return p.f.Read(b) }
func (p *osPort) Write(b []byte) (int, error) { return p.f.Write(b) }
func (p *osPort) Close() error                { return p.f.Close() }

func openOSPort(port string, baud int) (Port, error) {
	f, err := os.OpenFile(port, os.O_RDWR|os.O_NOCTTY, 0)
	if err != nil {
		return nil, err
	}

	fd := int(f.Fd())
	termios, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
	if err != nil {
		f.Close()
		return nil, err
	}

	speed, ok := baudConstants[baud]
	if !ok {
		speed = unix.B115200
	}

	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag &^= unix.CSIZE | unix.PARENB
	termios.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL
	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0

	unix.CfSetispeed(termios, speed)
	unix.CfSetospeed(termios, speed)

	if err := unix.IoctlSetTermios(fd, ioctlSetTermios, termios); err != nil {
		f.Close()
		return nil, err
	}

	return &osPort{f: f}, nil
}

var baudConstants = map[int]uint32{
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
	230400: unix.B230400,
}
