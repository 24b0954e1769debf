package mirror

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ai-digest/internal/adapter"
	collyfetcher "github.com/JakeFAU/ai-digest/internal/fetcher/colly"
	"github.com/JakeFAU/ai-digest/internal/policy/ratelimit"
	"github.com/JakeFAU/ai-digest/internal/post"
)

const profilePage = `<html><body><div class="timeline">
<div class="timeline-item">
  <div class="pinned"><span class="icon-pin"></span> Pinned Tweet</div>
  <span class="tweet-date"><a href="/OpenAI/status/100#m" title="Jan 1, 2025 · 9:00 AM UTC">Jan 1</a></span>
  <div class="tweet-content media-body">An old pinned announcement</div>
</div>
<div class="timeline-item">
  <a class="tweet-link" href="/OpenAI/status/200#m"></a>
  <span class="tweet-date"><a href="/OpenAI/status/200#m" title="Mar 4, 2025 · 3:04 PM UTC">1h</a></span>
  <div class="tweet-content media-body">Introducing a new reasoning model</div>
  <div class="tweet-stats">
    <span class="tweet-stat"><div class="icon-container"><span class="icon-comment"></span> 1,204</div></span>
    <span class="tweet-stat"><div class="icon-container"><span class="icon-retweet"></span> 350</div></span>
    <span class="tweet-stat"><div class="icon-container"><span class="icon-quote"></span> 12</div></span>
    <span class="tweet-stat"><div class="icon-container"><span class="icon-heart"></span> 12.5K</div></span>
  </div>
</div>
<div class="timeline-item">
  <div class="retweet-header"><span class="icon-retweet"></span> OpenAI retweeted</div>
  <span class="tweet-date"><a href="/other/status/300#m" title="Mar 4, 2025 · 1:00 PM UTC">3h</a></span>
  <div class="tweet-content media-body">Someone else's post</div>
</div>
<div class="timeline-item">
  <span class="tweet-date"><a href="/OpenAI" title="sometime last week">?</a></span>
  <div class="tweet-content media-body">API pricing update for developers</div>
</div>
<div class="timeline-item show-more"><a href="?cursor=abc">Load more</a></div>
</div></body></html>`

var openAI = post.AccountTarget{Handle: "OpenAI"}

func TestParseTimeline(t *testing.T) {
	t.Parallel()

	posts, err := ParseTimeline(strings.NewReader(profilePage), openAI, 0)
	require.NoError(t, err)
	require.Len(t, posts, 2)

	first := posts[0]
	assert.Equal(t, "200", first.ID)
	assert.Equal(t, "OpenAI", first.Account)
	assert.Equal(t, "https://x.com/OpenAI/status/200", first.URL)
	assert.Equal(t, time.Date(2025, 3, 4, 15, 4, 0, 0, time.UTC), first.Timestamp)
	assert.Equal(t, post.Engagement{Likes: 12500, Reposts: 350, Replies: 1204, Quotes: 12}, first.Engagement)

	second := posts[1]
	assert.True(t, strings.HasPrefix(second.ID, "fp-"))
	assert.False(t, second.HasTimestamp())
	assert.Equal(t, "sometime last week", second.RawTimestamp)
}

func TestParseTimelineLimitAndFallbackSelector(t *testing.T) {
	t.Parallel()

	page := `<html><body>
<article><span class="tweet-date"><a href="/a/status/1" title="Mar 4, 2025 · 3:04 PM UTC"></a></span><div class="tweet-content">one</div></article>
<article><span class="tweet-date"><a href="/a/status/2" title="Mar 4, 2025 · 3:05 PM UTC"></a></span><div class="tweet-content">two</div></article>
</body></html>`
	posts, err := ParseTimeline(strings.NewReader(page), post.AccountTarget{Handle: "a"}, 1)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, "1", posts[0].ID)
}

func TestParseTimelineNoItems(t *testing.T) {
	t.Parallel()

	_, err := ParseTimeline(strings.NewReader("<html><body><p>nothing</p></body></html>"), openAI, 0)
	require.Equal(t, adapter.ReasonEmpty, adapter.Classify(err).Reason)
}

func TestParseCount(t *testing.T) {
	t.Parallel()

	cases := map[string]int64{
		"":       0,
		"42":     42,
		" 1,234 ": 1234,
		"12.5K":  12500,
		"3M":     3_000_000,
		"n/a":    0,
	}
	for in, want := range cases {
		assert.Equal(t, want, parseCount(in), in)
	}
}

func TestAdapterFallsThroughHosts(t *testing.T) {
	t.Parallel()

	var throttledHits atomic.Int32
	throttled := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		throttledHits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer throttled.Close()

	redirecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/maintenance" {
			_, _ = w.Write([]byte(profilePage))
			return
		}
		http.Redirect(w, r, "/maintenance", http.StatusFound)
	}))
	defer redirecting.Close()

	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/OpenAI" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(profilePage))
	}))
	defer healthy.Close()

	pacer := ratelimit.New(ratelimit.Config{Cooldown: time.Minute})
	a := New(Config{Hosts: []string{throttled.URL, redirecting.URL, healthy.URL}},
		collyfetcher.New(collyfetcher.Config{Timeout: 2 * time.Second}), pacer, nil)

	res := a.Fetch(context.Background(), openAI, 10)
	require.True(t, res.OK(), "unexpected failure: %v", res.Err)
	require.Len(t, res.Posts, 2)
	assert.Equal(t, ID, res.Posts[0].Source)

	throttledURL, err := url.Parse(throttled.URL)
	require.NoError(t, err)
	assert.False(t, pacer.Available(throttledURL.Host))

	// The cooled-down host is skipped on the next fetch.
	res = a.Fetch(context.Background(), openAI, 10)
	require.True(t, res.OK())
	assert.Equal(t, int32(1), throttledHits.Load())
}

func TestAdapterAllHostsFail(t *testing.T) {
	t.Parallel()

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer down.Close()

	a := New(Config{Hosts: []string{down.URL, down.URL + "/mirror"}},
		collyfetcher.New(collyfetcher.Config{Timeout: time.Second}), nil, nil)
	res := a.Fetch(context.Background(), openAI, 10)
	require.Equal(t, adapter.OutcomeFailed, res.Outcome)
	assert.Equal(t, adapter.ReasonTransport, res.Reason())
}

func TestWalkAllCooling(t *testing.T) {
	t.Parallel()

	pacer := ratelimit.New(ratelimit.Config{})
	pacer.CoolDown("a.example")
	pacer.CoolDown("b.example")

	called := false
	_, err := Walk(context.Background(), []string{"a.example", "b.example"}, pacer, nil,
		func(context.Context, *url.URL) ([]post.Post, error) {
			called = true
			return nil, nil
		})
	require.False(t, called)
	require.True(t, errors.Is(err, ErrAllCooling))
	assert.Equal(t, adapter.ReasonRateLimited, adapter.Classify(err).Reason)
}

func TestWalkEmptyHostsFallThrough(t *testing.T) {
	t.Parallel()

	var visited []string
	posts, err := Walk(context.Background(), []string{"a.example", "http://b.example/base/"}, nil, nil,
		func(_ context.Context, base *url.URL) ([]post.Post, error) {
			visited = append(visited, base.String())
			if base.Host == "a.example" {
				return nil, nil
			}
			return []post.Post{{ID: "1"}}, nil
		})
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, []string{"https://a.example", "http://b.example/base"}, visited)
}

func TestWalkNoHosts(t *testing.T) {
	t.Parallel()

	_, err := Walk(context.Background(), nil, nil, nil, nil)
	require.True(t, errors.Is(err, ErrNoHosts))
}

func TestSuspicious(t *testing.T) {
	t.Parallel()

	for _, u := range []string{
		"https://status.d420.de/",
		"https://nitter.net/blocked",
		"https://x/ERROR",
		"https://nitter.net/maintenance?from=OpenAI",
		"https://nitter.net/ErrorLabs/blocked",
	} {
		assert.True(t, Suspicious(u, "ErrorLabs"), u)
	}
	assert.False(t, Suspicious(fmt.Sprintf("https://nitter.net/%s", openAI.Handle), openAI.Handle))
	assert.False(t, Suspicious("https://nitter.net/ErrorLabs", "ErrorLabs"))
	assert.False(t, Suspicious("https://nitter.net/ErrorLabs/rss", "@ErrorLabs"))
	assert.False(t, Suspicious("https://nitter.net/ErrorLabs?cursor=errorlabs", "ErrorLabs"))
}
