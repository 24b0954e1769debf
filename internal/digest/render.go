package digest

import (
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/ai-digest/internal/post"
)

// maxExcerpt bounds each post's text in rendered batches.
const maxExcerpt = 600

// SystemInstruction tells AI rungs what to extract.
const SystemInstruction = `You analyze posts from AI companies and write a concise daily summary.

Key points to extract:
- New product announcements
- Technical breakthroughs
- Important partnerships
- Notable research findings
- Significant company updates
- Industry trends and insights

Format the summary as clear bullet points with the most important information first.`

// Line renders one post as "@account (timestamp) [likes/reposts/replies]: text".
func Line(p post.Post) string {
	ts := p.RawTimestamp
	if p.HasTimestamp() {
		ts = p.Timestamp.UTC().Format(time.RFC3339)
	}
	marker := ""
	if p.Engagement.Notable() {
		marker = " 🔥"
	}
	return fmt.Sprintf("@%s (%s) [%d/%d/%d]%s: %s",
		p.Account, ts, p.Engagement.Likes, p.Engagement.Reposts, p.Engagement.Replies, marker, p.Excerpt(maxExcerpt))
}

// Prompt renders the batch as the user message for AI rungs.
func Prompt(batch Batch) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Posts from %d monitored accounts (likes/reposts/replies in brackets, 🔥 marks high engagement):\n\n", batch.Accounts)
	for _, p := range batch.Posts {
		sb.WriteString(Line(p))
		sb.WriteString("\n\n")
	}
	sb.WriteString("Summary:")
	return sb.String()
}
