// Package timeparse normalizes the timestamp formats emitted by the platform
// API and its mirror front-ends into UTC instants.
package timeparse

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnparseable is returned when no known layout matches.
var ErrUnparseable = errors.New("unparseable timestamp")

// APILayout is the created_at layout used by the platform's GraphQL payloads.
const APILayout = time.RubyDate

var layouts = []string{
	time.RFC3339,
	APILayout,
	"Jan 2, 2006 · 3:04 PM UTC",
	"Jan 2, 2006 · 15:04 UTC",
	"3:04 PM · Jan 2, 2006",
	"15:04 · Jan 2, 2006",
	"2006-01-02 15:04:05 UTC",
	"2006-01-02 15:04:05",
	"Jan 2, 2006 at 3:04 PM",
	"Jan 2, 2006",
}

// Parse tries every known layout and returns the instant in UTC.
func Parse(raw string) (time.Time, error) {
	value := strings.Join(strings.Fields(raw), " ")
	if value == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrUnparseable)
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), nil
		}
	}
	// "Jan 2, 2006 at <anything>" falls back to the date part.
	if date, _, ok := strings.Cut(value, " at "); ok {
		if ts, err := time.Parse("Jan 2, 2006", date); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrUnparseable, raw)
}
