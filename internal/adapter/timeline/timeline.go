// Package timeline decodes the platform's user-timeline GraphQL payloads, as
// captured by the proxy and browser adapters, into posts.
package timeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmespath/go-jmespath"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/JakeFAU/ai-digest/internal/adapter"
	"github.com/JakeFAU/ai-digest/internal/post"
	"github.com/JakeFAU/ai-digest/internal/timeparse"
)

// payloadSchema pins the parts of the payload the queries below depend on.
const payloadSchema = `{
  "type": "object",
  "required": ["data"],
  "properties": {
    "data": {
      "type": "object",
      "required": ["user"],
      "properties": {
        "user": {
          "type": "object",
          "required": ["result"],
          "properties": {
            "result": {
              "type": "object",
              "anyOf": [
                {"required": ["timeline_v2"]},
                {"required": ["timeline"]}
              ]
            }
          }
        }
      }
    }
  }
}`

var (
	schema = jsonschema.MustCompileString("timeline.json", payloadSchema)

	resultsQuery = jmespath.MustCompile(
		"(data.user.result.timeline_v2 || data.user.result.timeline).timeline" +
			".instructions[?type=='TimelineAddEntries'].entries[]" +
			" | [?starts_with(entryId, 'tweet-')].content.itemContent.tweet_results.result",
	)

	fieldsQuery = jmespath.MustCompile(`{
		id: legacy.id_str || rest_id,
		created_at: legacy.created_at,
		text: note_tweet.note_tweet_results.result.text || legacy.full_text,
		likes: legacy.favorite_count,
		reposts: legacy.retweet_count,
		replies: legacy.reply_count,
		quotes: legacy.quote_count,
		views: views.count,
		author: core.user_results.result.legacy.screen_name,
		retweet_of: legacy.retweeted_status_result.result.rest_id
	}`)
)

// ErrNoPayload is returned by DecodeAll when no captured body was usable.
var ErrNoPayload = errors.New("no timeline payload captured")

// IsTimelineURL reports whether a background request URL loads a user timeline.
func IsTimelineURL(url string) bool {
	return strings.Contains(url, "UserTweets") || strings.Contains(url, "UserMedia")
}

// Decode extracts up to limit original posts from one payload. Reposts of other
// accounts are skipped. Failures are classified as adapter parse errors.
func Decode(body []byte, account post.AccountTarget, limit int) ([]post.Post, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, adapter.Parse(fmt.Errorf("decode timeline json: %w", err))
	}
	if err := schema.Validate(doc); err != nil {
		return nil, adapter.Parse(fmt.Errorf("timeline payload shape: %w", err))
	}
	raw, err := resultsQuery.Search(doc)
	if err != nil {
		return nil, adapter.Parse(fmt.Errorf("query timeline entries: %w", err))
	}
	results, _ := raw.([]any)

	posts := make([]post.Post, 0, len(results))
	for _, item := range results {
		if limit > 0 && len(posts) >= limit {
			break
		}
		p, ok, err := decodeResult(item, account)
		if err != nil {
			return nil, err
		}
		if ok {
			posts = append(posts, p)
		}
	}
	return posts, nil
}

// DecodeAll decodes several captured bodies, deduplicating by id. Individual
// malformed bodies are tolerated as long as one of them decodes.
func DecodeAll(bodies [][]byte, account post.AccountTarget, limit int) ([]post.Post, error) {
	if len(bodies) == 0 {
		return nil, adapter.Parse(ErrNoPayload)
	}
	var (
		posts   []post.Post
		seen    = make(map[string]struct{})
		lastErr error
		decoded bool
	)
	for _, body := range bodies {
		batch, err := Decode(body, account, 0)
		if err != nil {
			lastErr = err
			continue
		}
		decoded = true
		for _, p := range batch {
			if _, dup := seen[p.ID]; dup {
				continue
			}
			seen[p.ID] = struct{}{}
			posts = append(posts, p)
		}
	}
	if !decoded {
		return nil, lastErr
	}
	if limit > 0 && len(posts) > limit {
		posts = posts[:limit]
	}
	return posts, nil
}

func decodeResult(item any, account post.AccountTarget) (post.Post, bool, error) {
	node, ok := item.(map[string]any)
	if !ok {
		return post.Post{}, false, nil
	}
	// TweetWithVisibilityResults nests the tweet one level deeper.
	if _, hasLegacy := node["legacy"]; !hasLegacy {
		if inner, ok := node["tweet"].(map[string]any); ok {
			node = inner
		}
	}
	raw, err := fieldsQuery.Search(node)
	if err != nil {
		return post.Post{}, false, adapter.Parse(fmt.Errorf("query tweet fields: %w", err))
	}
	fields, _ := raw.(map[string]any)
	if fields == nil || fields["retweet_of"] != nil {
		return post.Post{}, false, nil
	}
	id := asString(fields["id"])
	if id == "" {
		return post.Post{}, false, nil
	}

	p := post.Post{
		ID:      id,
		Account: account.Handle,
		Text:    asString(fields["text"]),
		Engagement: post.Engagement{
			Likes:   asInt(fields["likes"]),
			Reposts: asInt(fields["reposts"]),
			Replies: asInt(fields["replies"]),
			Quotes:  asInt(fields["quotes"]),
			Views:   asInt(fields["views"]),
		},
	}
	author := asString(fields["author"])
	if author == "" {
		author = account.Handle
	}
	p.URL = fmt.Sprintf("https://x.com/%s/status/%s", author, id)

	created := asString(fields["created_at"])
	if ts, err := time.Parse(timeparse.APILayout, created); err == nil {
		p.Timestamp = ts.UTC()
	} else {
		p.RawTimestamp = created
	}
	return p, true, nil
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func asInt(v any) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}
