//go:build linux

package kisslink

import "golang.org/x/sys/unix"

// setRTS asserts or clears the RTS line on fd, the classic way of keying a
// transmitter from a serial port when the TNC itself does not drive PTT.
// Grounded on doismellburning-samoyed/src/ptt.go's TIOCMGET/TIOCMSET ioctl
// pair.
func setRTS(fd int, on bool) error {
	bits, err := unix.IoctlGetInt(fd, unix.TIOCMGET)
	if err != nil {
		return err
	}

	if on {
		bits |= unix.TIOCM_RTS
	} else {
		bits &^= unix.TIOCM_RTS
	}

	return unix.IoctlSetInt(fd, unix.TIOCMSET, bits)
}
