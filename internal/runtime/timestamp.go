package runtime

import (
	"time"

	"github.com/lestrrat-go/strftime"
)

// DefaultTimestampFormat is the strftime layout used to stamp raw-frame
// diagnostic logging when AXTERM_WIRE_DEBUG is enabled, grounded on
// doismellburning-samoyed/src/xmit.go and src/tq.go's use of
// github.com/lestrrat-go/strftime to render a configurable
// timestamp_format ahead of received/transmitted frame dumps.
const DefaultTimestampFormat = "%Y-%m-%d %H:%M:%S"

// FormatTimestamp renders t using a strftime-style layout, falling back
// to DefaultTimestampFormat if layout is empty or invalid.
func FormatTimestamp(layout string, t time.Time) string {
	if layout == "" {
		layout = DefaultTimestampFormat
	}

	f, err := strftime.New(layout)
	if err != nil {
		f, _ = strftime.New(DefaultTimestampFormat)
	}

	return f.FormatString(t)
}
