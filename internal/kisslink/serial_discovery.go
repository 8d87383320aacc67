package kisslink

import (
	"strings"

	"github.com/jochenvg/go-udev"
)

// DiscoverSerialTNCs enumerates tty devices exposed by the "tty" udev
// subsystem and returns their device nodes, pure-Go replacement for the
// cgo libudev enumeration doismellburning-samoyed/src/cm108.go performs
// for audio cards (udev_enumerate_new/add_match_subsystem/scan_devices),
// adapted here to serial TNCs instead of sound cards.
func DiscoverSerialTNCs() ([]string, error) {
	u := udev.Udev{}
	enum := u.NewEnumerate()

	if err := enum.AddMatchSubsystem("tty"); err != nil {
		return nil, err
	}

	devices, err := enum.Devices()
	if err != nil {
		return nil, err
	}

	var nodes []string

	for _, d := range devices {
		node := d.Devnode()
		if node == "" {
			continue
		}

		// USB and platform serial adapters only; skip virtual consoles
		// (/dev/tty and /dev/ttyN).
		suffix := strings.TrimPrefix(node, "/dev/tty")
		if !strings.Contains(node, "/dev/tty") || strings.Trim(suffix, "0123456789") == "" {
			continue
		}

		nodes = append(nodes, node)
	}

	return nodes, nil
}
