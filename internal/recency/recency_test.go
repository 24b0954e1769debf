package recency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ai-digest/internal/post"
)

var now = time.Date(2025, 3, 4, 12, 0, 0, 0, time.UTC)

func TestFilterInclusiveBounds(t *testing.T) {
	t.Parallel()

	window := 24 * time.Hour
	posts := []post.Post{
		{ID: "edge-old", Timestamp: now.Add(-window)},
		{ID: "edge-now", Timestamp: now},
		{ID: "stale", Timestamp: now.Add(-window - time.Nanosecond)},
		{ID: "future", Timestamp: now.Add(time.Second)},
		{ID: "mid", Timestamp: now.Add(-time.Hour)},
	}
	kept, stats, err := Filter(posts, now, window)
	require.NoError(t, err)

	ids := make([]string, 0, len(kept))
	for _, p := range kept {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"edge-old", "edge-now", "mid"}, ids)
	assert.Equal(t, Stats{Kept: 3, Stale: 1, Future: 1}, stats)
	assert.Equal(t, 2, stats.Dropped())
}

func TestFilterNormalizesTimezones(t *testing.T) {
	t.Parallel()

	tokyo := time.FixedZone("JST", 9*3600)
	// 20:00 JST is 11:00 UTC, one hour before now.
	p := post.Post{ID: "tz", Timestamp: time.Date(2025, 3, 4, 20, 0, 0, 0, tokyo)}
	kept, _, err := Filter([]post.Post{p}, now.In(tokyo), 2*time.Hour)
	require.NoError(t, err)
	require.Len(t, kept, 1)
	assert.Equal(t, time.UTC, kept[0].Timestamp.Location())
}

func TestFilterReparsesRawTimestamps(t *testing.T) {
	t.Parallel()

	posts := []post.Post{
		{ID: "raw", RawTimestamp: "Mar 4, 2025 · 10:30 AM UTC"},
		{ID: "junk", RawTimestamp: "a while ago"},
		{ID: "blank"},
	}
	kept, stats, err := Filter(posts, now, 5*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, kept, 1)
	assert.Equal(t, time.Date(2025, 3, 4, 10, 30, 0, 0, time.UTC), kept[0].Timestamp)
	assert.Equal(t, 2, stats.Unparseable)
}

func TestFilterOrdersRedatedPostsNewestFirst(t *testing.T) {
	t.Parallel()

	// Merged output: dated posts newest first, undated ones at the tail.
	posts := []post.Post{
		{ID: "dated-1h", Timestamp: now.Add(-time.Hour)},
		{ID: "dated-5h", Timestamp: now.Add(-5 * time.Hour)},
		{ID: "raw-30m", RawTimestamp: "Mar 4, 2025 · 11:30 AM UTC"},
		{ID: "raw-3h", RawTimestamp: "Mar 4, 2025 · 9:00 AM UTC"},
	}
	kept, stats, err := Filter(posts, now, 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 4, stats.Kept)

	ids := make([]string, 0, len(kept))
	for _, p := range kept {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"raw-30m", "dated-1h", "raw-3h", "dated-5h"}, ids)
}

func TestFilterRejectsBadWindow(t *testing.T) {
	t.Parallel()

	_, _, err := Filter(nil, now, 0)
	require.ErrorIs(t, err, ErrInvalidWindow)
}
