package mirror

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/ai-digest/internal/adapter"
	"github.com/JakeFAU/ai-digest/internal/hash/sha256"
	"github.com/JakeFAU/ai-digest/internal/post"
	"github.com/JakeFAU/ai-digest/internal/timeparse"
)

// itemSelectors are tried in order; the first one matching anything wins.
var itemSelectors = []string{"div.timeline-item", "div.tweet", "article"}

var statusIDPattern = regexp.MustCompile(`/status/(\d+)`)

// ParseTimeline extracts up to limit posts from a mirror profile page.
// Pinned items and reposts are skipped. An unparsed date leaves the post's
// Timestamp zero with RawTimestamp set.
func ParseTimeline(r io.Reader, account post.AccountTarget, limit int) ([]post.Post, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, adapter.Parse(fmt.Errorf("parse mirror html: %w", err))
	}

	var items *goquery.Selection
	for _, sel := range itemSelectors {
		if found := doc.Find(sel); found.Length() > 0 {
			items = found
			break
		}
	}
	if items == nil {
		return nil, adapter.NewError(adapter.ReasonEmpty, nil)
	}

	posts := make([]post.Post, 0, items.Length())
	seen := make(map[string]struct{})
	items.EachWithBreak(func(_ int, item *goquery.Selection) bool {
		if limit > 0 && len(posts) >= limit {
			return false
		}
		p, ok := parseItem(item, account)
		if !ok {
			return true
		}
		if _, dup := seen[p.ID]; dup {
			return true
		}
		seen[p.ID] = struct{}{}
		posts = append(posts, p)
		return true
	})
	return posts, nil
}

func parseItem(item *goquery.Selection, account post.AccountTarget) (post.Post, bool) {
	if item.Find(".pinned").Length() > 0 || item.Find(".retweet-header").Length() > 0 {
		return post.Post{}, false
	}
	content := item.Find("div.tweet-content").First()
	if content.Length() == 0 {
		return post.Post{}, false
	}
	text := strings.TrimSpace(content.Text())
	if text == "" {
		return post.Post{}, false
	}

	p := post.Post{
		Account: account.Handle,
		Text:    text,
	}

	dateLink := item.Find("span.tweet-date a").First()
	raw, _ := dateLink.Attr("title")
	if raw == "" {
		raw = strings.TrimSpace(dateLink.Text())
	}
	if ts, err := timeparse.Parse(raw); err == nil {
		p.Timestamp = ts
	} else {
		p.RawTimestamp = raw
	}

	href, _ := dateLink.Attr("href")
	if href == "" {
		href, _ = item.Find("a.tweet-link").First().Attr("href")
	}
	if m := statusIDPattern.FindStringSubmatch(href); m != nil {
		p.ID = m[1]
		p.URL = "https://x.com/" + account.Handle + "/status/" + m[1]
	} else {
		p.ID = sha256.Fingerprint(account.Handle, raw, text)
	}

	item.Find("span.tweet-stat").Each(func(_ int, stat *goquery.Selection) {
		value := parseCount(stat.Text())
		switch {
		case stat.Find(".icon-comment").Length() > 0:
			p.Engagement.Replies = value
		case stat.Find(".icon-retweet").Length() > 0:
			p.Engagement.Reposts = value
		case stat.Find(".icon-quote").Length() > 0:
			p.Engagement.Quotes = value
		case stat.Find(".icon-heart").Length() > 0:
			p.Engagement.Likes = value
		case stat.Find(".icon-views").Length() > 0:
			p.Engagement.Views = value
		}
	})
	return p, true
}

// parseCount reads counters such as "1,234", "12.5K" or "3M". Anything else is 0.
func parseCount(raw string) int64 {
	value := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(raw), ",", ""))
	if value == "" {
		return 0
	}
	multiplier := 1.0
	switch {
	case strings.HasSuffix(value, "K"):
		multiplier = 1e3
		value = strings.TrimSuffix(value, "K")
	case strings.HasSuffix(value, "M"):
		multiplier = 1e6
		value = strings.TrimSuffix(value, "M")
	case strings.HasSuffix(value, "B"):
		multiplier = 1e9
		value = strings.TrimSuffix(value, "B")
	}
	n, err := strconv.ParseFloat(value, 64)
	if err != nil || n < 0 {
		return 0
	}
	return int64(n*multiplier + 0.5)
}
