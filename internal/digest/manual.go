package digest

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/JakeFAU/ai-digest/internal/post"
)

// perBucket bounds how many posts the manual digest lists per category.
const perBucket = 3

// otherLabel collects posts no keyword matches.
const otherLabel = "Other Updates"

type category struct {
	label    string
	keywords []string
}

// categories are matched in order; a post lands in the first that matches.
var categories = []category{
	{label: "Model", keywords: []string{"gpt", "claude", "gemini", "llama", "mistral", "model"}},
	{label: "Api", keywords: []string{"api", "endpoint", "integration", "developer"}},
	{label: "Research", keywords: []string{"research", "paper", "study", "breakthrough"}},
	{label: "Product", keywords: []string{"launch", "release", "announce", "new", "update"}},
	{label: "Partnership", keywords: []string{"partner", "collaboration", "team", "join"}},
}

// Manual is the rule-based rung used when no AI summarizer is available.
type Manual struct{}

// Name implements Strategy.
func (Manual) Name() string { return "manual" }

// Kind marks manual output as degraded.
func (Manual) Kind() Kind { return KindManual }

// Summarize buckets posts by keyword and lists the most engaged posts of
// every non-empty bucket. Posts matching no keyword go to Other Updates.
func (Manual) Summarize(_ context.Context, batch Batch) (string, error) {
	if len(batch.Posts) == 0 {
		return "", fmt.Errorf("manual digest needs at least one post")
	}
	// The last bucket is the catch-all.
	buckets := make([][]post.Post, len(categories)+1)
	for _, p := range batch.Posts {
		i := Categorize(p.Text)
		if i < 0 {
			i = len(categories)
		}
		buckets[i] = append(buckets[i], p)
	}

	var sb strings.Builder
	sb.WriteString("*Daily AI Summary - Manual Overview*\n")
	for i, bucket := range buckets {
		if len(bucket) == 0 {
			continue
		}
		label := otherLabel
		if i < len(categories) {
			label = CategoryLabel(i)
		}
		fmt.Fprintf(&sb, "\n• *%s*: %d related posts\n", label, len(bucket))
		for _, p := range topEngaged(bucket, perBucket) {
			fmt.Fprintf(&sb, "    ◦ @%s: %s\n", p.Account, p.Excerpt(280))
		}
	}
	sb.WriteString("\n_Manual summary generated - AI analysis unavailable_")
	return sb.String(), nil
}

// topEngaged returns up to n posts by engagement total, newest first on ties.
func topEngaged(posts []post.Post, n int) []post.Post {
	ranked := slices.Clone(posts)
	slices.SortStableFunc(ranked, func(a, b post.Post) int {
		if c := cmp.Compare(b.Engagement.Total(), a.Engagement.Total()); c != 0 {
			return c
		}
		return b.Timestamp.Compare(a.Timestamp)
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// Categorize returns the index of the first matching category, or -1.
func Categorize(text string) int {
	lowered := strings.ToLower(text)
	for i, c := range categories {
		for _, kw := range c.keywords {
			if strings.Contains(lowered, kw) {
				return i
			}
		}
	}
	return -1
}

// CategoryLabel returns the display label for a Categorize index; -1 maps to
// the catch-all label.
func CategoryLabel(i int) string {
	if i == -1 {
		return otherLabel
	}
	if i < 0 || i >= len(categories) {
		return ""
	}
	return categories[i].label + " Updates"
}
