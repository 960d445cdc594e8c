package lifecycle

import (
	"fmt"
	"time"
)

// FormatCountdown renders the remaining time for display: "mm:ss" within an
// hour, "h:mm:ss" beyond it, "00:00" once elapsed.
func FormatCountdown(until, now time.Time) string {
	d := until.Sub(now)
	if d <= 0 {
		return "00:00"
	}
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
