// Package timelinetest builds synthetic timeline payloads for tests.
package timelinetest

import (
	"encoding/json"
	"strconv"
	"time"
)

// Tweet describes one synthetic timeline entry.
type Tweet struct {
	ID        string
	Author    string
	Text      string
	CreatedAt time.Time
	Likes     int
	Reposts   int
	Replies   int
	Views     int
	// RetweetOf marks the entry as a repost of another status.
	RetweetOf string
	// Hidden wraps the entry in a TweetWithVisibilityResults envelope.
	Hidden bool
}

// Payload renders tweets in the UserTweets GraphQL response shape.
func Payload(tweets ...Tweet) []byte {
	entries := make([]any, 0, len(tweets)+1)
	for _, tw := range tweets {
		entries = append(entries, entry(tw))
	}
	entries = append(entries, map[string]any{
		"entryId": "cursor-bottom-123",
		"content": map[string]any{"value": "cursor"},
	})
	doc := map[string]any{
		"data": map[string]any{
			"user": map[string]any{
				"result": map[string]any{
					"timeline_v2": map[string]any{
						"timeline": map[string]any{
							"instructions": []any{
								map[string]any{"type": "TimelineClearCache"},
								map[string]any{"type": "TimelineAddEntries", "entries": entries},
							},
						},
					},
				},
			},
		},
	}
	body, err := json.Marshal(doc)
	if err != nil {
		panic(err)
	}
	return body
}

func entry(tw Tweet) map[string]any {
	legacy := map[string]any{
		"id_str":         tw.ID,
		"created_at":     tw.CreatedAt.UTC().Format(time.RubyDate),
		"full_text":      tw.Text,
		"favorite_count": tw.Likes,
		"retweet_count":  tw.Reposts,
		"reply_count":    tw.Replies,
		"quote_count":    0,
	}
	if tw.RetweetOf != "" {
		legacy["retweeted_status_result"] = map[string]any{
			"result": map[string]any{"rest_id": tw.RetweetOf},
		}
	}
	result := map[string]any{
		"__typename": "Tweet",
		"rest_id":    tw.ID,
		"legacy":     legacy,
		"views":      map[string]any{"count": strconv.Itoa(tw.Views)},
		"core": map[string]any{
			"user_results": map[string]any{
				"result": map[string]any{"legacy": map[string]any{"screen_name": tw.Author}},
			},
		},
	}
	if tw.Hidden {
		result = map[string]any{"__typename": "TweetWithVisibilityResults", "tweet": result}
	}
	return map[string]any{
		"entryId": "tweet-" + tw.ID,
		"content": map[string]any{
			"itemContent": map[string]any{
				"tweet_results": map[string]any{"result": result},
			},
		},
	}
}
