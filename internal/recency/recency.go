// Package recency keeps posts inside a trailing UTC window.
package recency

import (
	"errors"
	"slices"
	"time"

	"github.com/JakeFAU/ai-digest/internal/post"
	"github.com/JakeFAU/ai-digest/internal/timeparse"
)

// ErrInvalidWindow is returned for non-positive windows.
var ErrInvalidWindow = errors.New("recency window must be > 0")

// Stats counts why posts were kept or dropped.
type Stats struct {
	Kept        int `json:"kept"`
	Stale       int `json:"stale"`
	Future      int `json:"future"`
	Unparseable int `json:"unparseable"`
}

// Dropped is the number of posts removed.
func (s Stats) Dropped() int {
	return s.Stale + s.Future + s.Unparseable
}

// Filter returns the posts with now-window <= timestamp <= now in input
// order. Posts without a parsed timestamp get one more attempt from
// RawTimestamp and are dropped if that fails; when any post is dated that
// way the kept posts are re-sorted newest first, ties in input order.
func Filter(posts []post.Post, now time.Time, window time.Duration) ([]post.Post, Stats, error) {
	var stats Stats
	if window <= 0 {
		return nil, stats, ErrInvalidWindow
	}
	now = now.UTC()
	from := now.Add(-window)

	kept := make([]post.Post, 0, len(posts))
	redated := false
	for _, p := range posts {
		if !p.HasTimestamp() {
			ts, err := timeparse.Parse(p.RawTimestamp)
			if err != nil {
				stats.Unparseable++
				continue
			}
			p.Timestamp = ts
			redated = true
		}
		ts := p.Timestamp.UTC()
		switch {
		case ts.Before(from):
			stats.Stale++
		case ts.After(now):
			stats.Future++
		default:
			p.Timestamp = ts
			kept = append(kept, p)
		}
	}
	if redated {
		slices.SortStableFunc(kept, func(a, b post.Post) int {
			return b.Timestamp.Compare(a.Timestamp)
		})
	}
	stats.Kept = len(kept)
	return kept, stats, nil
}
