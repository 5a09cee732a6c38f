package errutil

import (
	"strconv"

	"github.com/charmbracelet/log"
)

// MustParseInt parses an int or logs error and returns 0.
// The context parameter provides information about where the parse occurred.
func MustParseInt(logger *log.Logger, s string, context string) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		logger.Warn("ParseInt error", "context", context, "err", err, "input", s)
		return 0
	}
	return i
}

// MustParseUint32 parses a uint32 or logs error and returns 0.
func MustParseUint32(logger *log.Logger, s string, base int, context string) uint32 {
	u, err := strconv.ParseUint(s, base, 32)
	if err != nil {
		logger.Warn("ParseUint32 error", "context", context, "err", err, "input", s)
		return 0
	}
	return uint32(u)
}

// LogError logs non-critical errors with context.
func LogError(logger *log.Logger, context string, err error) {
	if err != nil {
		logger.Error(context, "err", err)
	}
}
