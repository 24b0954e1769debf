package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ai-digest/internal/adapter"
	"github.com/JakeFAU/ai-digest/internal/adapter/timeline/timelinetest"
	"github.com/JakeFAU/ai-digest/internal/post"
)

var account = post.AccountTarget{Handle: "AnthropicAI"}

func scrapeResponse(t *testing.T, calls ...map[string]any) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"result": map[string]any{
			"success":      true,
			"browser_data": map[string]any{"xhr_call": calls},
		},
	})
	require.NoError(t, err)
	return body
}

func xhr(url string, body []byte) map[string]any {
	return map[string]any{"url": url, "response": map[string]any{"body": string(body)}}
}

func TestFetchSkipsWithoutAPIKey(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { hits.Add(1) }))
	defer srv.Close()

	a := New(Config{Endpoint: srv.URL}, srv.Client(), nil)
	require.False(t, a.Available())
	res := a.Fetch(context.Background(), account, 10)
	require.Equal(t, adapter.OutcomeSkipped, res.Outcome)
	require.Equal(t, adapter.ReasonUnavailable, res.Reason())
	require.Zero(t, hits.Load())
}

func TestFetchDecodesCapturedTimeline(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC().Truncate(time.Second)
	payload := timelinetest.Payload(
		timelinetest.Tweet{ID: "7", Author: "AnthropicAI", Text: "Research update", CreatedAt: now, Likes: 10},
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		require.Equal(t, "/scrape", r.URL.Path)
		require.Equal(t, "secret", q.Get("key"))
		require.Equal(t, "https://x.com/AnthropicAI", q.Get("url"))
		require.Equal(t, "true", q.Get("render_js"))
		require.Equal(t, "[data-testid='tweet']", q.Get("wait_for_selector"))
		require.Equal(t, "public_residential_pool", q.Get("proxy_pool"))
		_, _ = w.Write(scrapeResponse(t,
			xhr("https://x.com/i/api/graphql/a/UserByScreenName", []byte(`{}`)),
			xhr("https://x.com/i/api/graphql/b/UserTweets?v=1", payload),
		))
	}))
	defer srv.Close()

	a := New(Config{APIKey: "secret", Endpoint: srv.URL}, srv.Client(), nil)
	res := a.Fetch(context.Background(), account, 10)
	require.True(t, res.OK(), "%+v", res.Err)
	require.Len(t, res.Posts, 1)
	require.Equal(t, "7", res.Posts[0].ID)
	require.Equal(t, ID, res.Posts[0].Source)
	require.True(t, now.Equal(res.Posts[0].Timestamp))
}

func TestFetchClassifiesFailures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		status int
		body   []byte
		want   adapter.Reason
	}{
		{name: "throttled", status: http.StatusTooManyRequests, want: adapter.ReasonRateLimited},
		{name: "upstream error", status: http.StatusBadGateway, want: adapter.ReasonTransport},
		{name: "not json", status: http.StatusOK, body: []byte("<html>"), want: adapter.ReasonParse},
		{name: "no capture", status: http.StatusOK, body: []byte(`{"result":{"browser_data":{"xhr_call":[]}}}`), want: adapter.ReasonEmpty},
		{name: "changed shape", status: http.StatusOK, body: []byte(`{"result":{"browser_data":{"xhr_call":[{"url":"UserTweets","response":{"body":"{\"data\":{}}"}}]}}}`), want: adapter.ReasonParse},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write(tc.body)
			}))
			defer srv.Close()

			a := New(Config{APIKey: "k", Endpoint: srv.URL}, srv.Client(), nil)
			res := a.Fetch(context.Background(), account, 10)
			require.Equal(t, adapter.OutcomeFailed, res.Outcome)
			require.Equal(t, tc.want, res.Reason())
		})
	}
}

func TestFetchHonorsTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	a := New(Config{APIKey: "k", Endpoint: srv.URL, Timeout: 50 * time.Millisecond}, srv.Client(), nil)
	res := a.Fetch(context.Background(), account, 10)
	require.Equal(t, adapter.ReasonTimeout, res.Reason())
}
