// Package post defines the records that flow through the digest pipeline.
package post

import (
	"strings"
	"time"
)

// Engagement carries interaction counts. Missing values are zero.
type Engagement struct {
	Likes   int64 `json:"likes"`
	Reposts int64 `json:"reposts"`
	Replies int64 `json:"replies"`
	Quotes  int64 `json:"quotes"`
	Views   int64 `json:"views"`
}

// Total sums the interaction counts used for ranking. Views are excluded.
func (e Engagement) Total() int64 {
	return e.Likes + e.Reposts + e.Replies + e.Quotes
}

// Richness reports how many counters carry data.
func (e Engagement) Richness() int {
	n := 0
	for _, v := range []int64{e.Likes, e.Reposts, e.Replies, e.Quotes, e.Views} {
		if v > 0 {
			n++
		}
	}
	return n
}

// Notable flags posts with unusually high engagement.
func (e Engagement) Notable() bool {
	return e.Likes > 1000 || e.Reposts > 100
}

// Post is a single social-media item attributed to a monitored account.
type Post struct {
	ID      string `json:"id"`
	Account string `json:"account"`
	// Timestamp is UTC. It is zero when the adapter could not parse the
	// source format, in which case RawTimestamp holds the original text.
	Timestamp    time.Time  `json:"timestamp"`
	RawTimestamp string     `json:"raw_timestamp,omitempty"`
	Text         string     `json:"text"`
	Engagement   Engagement `json:"engagement"`
	Source       string     `json:"source"`
	URL          string     `json:"url,omitempty"`
}

// HasTimestamp reports whether the post carries a parsed timestamp.
func (p Post) HasTimestamp() bool {
	return !p.Timestamp.IsZero()
}

// Excerpt returns the text collapsed to one line and truncated to limit runes.
func (p Post) Excerpt(limit int) string {
	text := strings.Join(strings.Fields(p.Text), " ")
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return strings.TrimSpace(string(runes[:limit])) + "…"
}
