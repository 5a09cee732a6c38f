package format

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MHzToHz converts a radio-reported frequency in MHz ("14.236000") to Hz.
func MHzToHz(mhz string) (uint64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(mhz), 64)
	if err != nil {
		return 0, fmt.Errorf("parse frequency %q: %w", mhz, err)
	}
	if f < 0 {
		return 0, fmt.Errorf("negative frequency %q", mhz)
	}
	return uint64(math.Round(f * 1e6)), nil
}

// FrequencyHz formats a frequency in Hz with dot separators
// Example: 14250000 -> "14.250.000"
func FrequencyHz(hz uint64) string {
	if hz == 0 {
		return "0"
	}

	var parts []string
	for hz > 0 {
		part := hz % 1000
		hz /= 1000

		if hz > 0 {
			parts = append([]string{fmt.Sprintf("%03d", part)}, parts...)
		} else {
			parts = append([]string{fmt.Sprintf("%d", part)}, parts...)
		}
	}
	return strings.Join(parts, ".")
}
