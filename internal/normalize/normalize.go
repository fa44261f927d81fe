// Package normalize turns free-text locations into comparison keys and
// measures day offsets between instants.
package normalize

import (
	"regexp"
	"strings"
	"time"
)

var (
	nonKeyChars = regexp.MustCompile(`[^a-z0-9\s]`)
	spaceRuns   = regexp.MustCompile(`\s+`)
)

// City returns the comparison key for a city name: lower-cased, trimmed,
// stripped of everything outside [a-z0-9 ] and with whitespace runs
// collapsed to one space. Two cities are the same place iff their keys match.
func City(name string) string {
	key := nonKeyChars.ReplaceAllString(strings.ToLower(name), "")
	return strings.TrimSpace(spaceRuns.ReplaceAllString(key, " "))
}

// DaysUntil is the signed number of whole days from now to t, truncated
// toward zero. It is negative when t is in the past.
func DaysUntil(now, t time.Time) int {
	return int(t.Sub(now) / (24 * time.Hour))
}
