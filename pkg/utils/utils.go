package utils

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateID returns a new random identifier.
func GenerateID() string {
	return uuid.NewString()
}

// FormatTime renders t for human-facing messages.
func FormatTime(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

// Truncate cuts s to at most max runes, appending "..." when shortened.
// max <= 0 disables truncation.
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}

// NormalizeTag trims surrounding whitespace and a leading '#'.
func NormalizeTag(tag string) string {
	return strings.TrimPrefix(strings.TrimSpace(tag), "#")
}
