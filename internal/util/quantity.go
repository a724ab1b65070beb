package util

import (
	"fmt"
	"strings"
)

// ParseSize converts a size string (e.g., "50M", "1G", "512KB") to bytes.
// A bare number is taken as bytes. If the string is empty, it returns 0.
func ParseSize(size string) (int64, error) {
	size = strings.TrimSpace(size)
	if size == "" {
		return 0, nil
	}

	var value float64
	var unit string

	n, err := fmt.Sscanf(size, "%f%s", &value, &unit)
	if err != nil && n == 0 {
		return 0, fmt.Errorf("invalid size value: %s", size)
	}
	if value < 0 {
		return 0, fmt.Errorf("negative size value: %s", size)
	}

	if n == 1 {
		return int64(value), nil
	}

	unit = strings.ToUpper(strings.TrimSpace(unit))
	switch unit {
	case "B":
		return int64(value), nil
	case "K", "KB", "KI", "KIB":
		return int64(value * 1024), nil
	case "M", "MB", "MI", "MIB":
		return int64(value * 1024 * 1024), nil
	case "G", "GB", "GI", "GIB":
		return int64(value * 1024 * 1024 * 1024), nil
	default:
		return 0, fmt.Errorf("unknown size unit: %s", unit)
	}
}

// FormatSize renders a byte count with the largest binary unit that keeps
// the value at or above one.
func FormatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMG"[exp])
}
