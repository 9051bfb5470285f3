package period

import (
	"fmt"
	"strings"
	"time"
)

// StoreLayout is the store-native timestamp format ("yyyy-MM-dd HH:mm:ss").
const StoreLayout = "2006-01-02 15:04:05"

// Accepted input layouts, tried in order. Layouts without a zone are UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	StoreLayout,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// ParseTimestamp parses an ISO-8601 or store-native timestamp and normalizes it.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty timestamp", ErrInvalidInput)
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Normalize(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unrecognized timestamp %q", ErrInvalidInput, s)
}

// Normalize converts t to the single representation used for comparisons:
// UTC with whole-second precision.
func Normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// FormatTimestamp renders t in the store-native layout
func FormatTimestamp(t time.Time) string {
	return Normalize(t).Format(StoreLayout)
}

// SameDay reports whether a and b fall on the same calendar day in loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.UTC
	}
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}
