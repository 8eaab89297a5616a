package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces values too short to abbreviate.
const RedactedValue = "[REDACTED]"

// MaskField logs value cut down to its first six and last four characters, enough
// to correlate destination addresses and nonces across lines without printing them.
func MaskField(key, value string) slog.Attr {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return slog.String(key, "")
	case len(value) <= 12:
		return slog.String(key, RedactedValue)
	}
	return slog.String(key, value[:6]+"..."+value[len(value)-4:])
}
