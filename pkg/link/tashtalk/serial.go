package tashtalk

import (
	"os"

	"golang.org/x/sys/unix"
)

// openSerial opens device and configures it exactly as the firmware
// expects: raw mode, 1,000,000 baud (above what the fixed termios speed
// table covers, hence BOTHER/Termios2), and RTS/CTS hardware flow
// control so the host never overruns the adapter's buffer.
func openSerial(device string) (*os.File, error) {
	fd, err := unix.Open(device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, err
	}

	t, err := unix.IoctlGetTermios2(fd, unix.TCGETS2)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	t.Iflag = 0
	t.Oflag = 0
	t.Lflag = 0
	t.Cflag = unix.CS8 | unix.CREAD | unix.CLOCAL | unix.CRTSCTS | unix.BOTHER
	t.Ispeed = baudRate
	t.Ospeed = baudRate
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios2(fd, unix.TCSETS2, t); err != nil {
		unix.Close(fd)
		return nil, err
	}

	// Clear O_NONBLOCK now that the port is configured: the read loop
	// wants a blocking read, one byte is as good as a wakeup.
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFL, flags&^unix.O_NONBLOCK); err != nil {
		unix.Close(fd)
		return nil, err
	}

	return os.NewFile(uintptr(fd), device), nil
}
