// Package timeutil provides time formatting utilities for CLI output.
package timeutil

import (
	"fmt"
	"time"
)

// FormatDuration renders d for humans: "3d 0h 30m 15s" for long runs down
// to "12.5ms" for short ones. Negative durations render as "0s".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		return "0s"
	}
	if d < time.Second {
		return d.Round(10 * time.Microsecond).String()
	}

	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}

// Rate renders bytes moved over d as a per-second figure, e.g. "12.40 MiB/s".
func Rate(bytes int64, d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	perSec := float64(bytes) / d.Seconds()
	switch {
	case perSec >= 1<<30:
		return fmt.Sprintf("%.2f GiB/s", perSec/(1<<30))
	case perSec >= 1<<20:
		return fmt.Sprintf("%.2f MiB/s", perSec/(1<<20))
	case perSec >= 1<<10:
		return fmt.Sprintf("%.2f KiB/s", perSec/(1<<10))
	}
	return fmt.Sprintf("%.0f B/s", perSec)
}
