//go:build !linux

package kisslink

import "fmt"

// setRTS is unsupported outside Linux; the ioctl numbers ptt_linux.go relies
// on are not portable.
func setRTS(fd int, on bool) error {
	return fmt.Errorf("kisslink: RTS PTT keying not supported on this platform")
}
