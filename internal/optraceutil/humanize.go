// Package optraceutil provides small helpers shared by optrace packages.
package optraceutil

import (
	"fmt"
	"time"
)

// HumanizeDuration renders the duration with units adapted to its magnitude:
// sub-second durations in milliseconds, durations under a minute in seconds,
// under an hour as mm:ss, and anything longer as hh:mm:ss.
func HumanizeDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%.2fms", float64(d)/float64(time.Millisecond))
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%02d:%02d", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%02d:%02d:%02d", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
	}
}

// TruncateDuration truncates the provided duration to a more human-friendly
// form, depending on its magnitude. Useful when durations are rendered with
// the stdlib formatting rather than HumanizeDuration.
func TruncateDuration(d time.Duration) time.Duration {
	switch {
	case d >= 24*time.Hour:
		return d.Truncate(time.Hour)
	case d >= time.Hour:
		return d.Truncate(time.Minute)
	case d >= time.Minute:
		return d.Truncate(time.Second)
	case d >= time.Second:
		return d.Truncate(100 * time.Millisecond)
	case d >= time.Millisecond:
		return d.Truncate(100 * time.Microsecond)
	default:
		return d
	}
}
