// Package digest caps the filtered posts to a bounded batch and turns it into
// digest text by walking a degradation ladder of strategies: AI summarizers,
// then a keyword-bucketed manual digest, then a bare counts notice.
package digest

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/JakeFAU/ai-digest/internal/post"
)

// DefaultMaxItems caps the batch handed to strategies.
const DefaultMaxItems = 25

// Placeholder is the digest text for an empty window.
const Placeholder = "No notable activity from monitored accounts in the selected window."

// Kind records which rung produced the digest.
type Kind string

// Digest kinds.
const (
	KindAI          Kind = "ai"
	KindManual      Kind = "manual"
	KindBare        Kind = "bare"
	KindPlaceholder Kind = "placeholder"
)

// Batch is the bounded input handed to a Strategy.
type Batch struct {
	// Posts are ordered by timestamp descending.
	Posts []post.Post
	// Accounts is the number of monitored accounts.
	Accounts int
}

// Strategy produces digest text from a batch.
type Strategy interface {
	Name() string
	Summarize(ctx context.Context, batch Batch) (string, error)
}

// kinded lets a strategy report a non-AI kind.
type kinded interface {
	Kind() Kind
}

// Digest is the builder's output.
type Digest struct {
	Text     string      `json:"text"`
	Kind     Kind        `json:"kind"`
	Strategy string      `json:"strategy"`
	Batch    []post.Post `json:"batch"`
	// Errors lists failed rungs as "name: error".
	Errors []string `json:"errors,omitempty"`
}

// Degraded reports whether the digest came from a fallback rung.
func (d Digest) Degraded() bool {
	return d.Kind == KindManual || d.Kind == KindBare
}

// Builder caps posts and walks the strategy ladder.
type Builder struct {
	maxItems   int
	strategies []Strategy
	logger     *zap.Logger
}

// NewBuilder returns a Builder trying strategies in order. maxItems <= 0
// selects DefaultMaxItems.
func NewBuilder(maxItems int, strategies []Strategy, logger *zap.Logger) *Builder {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		maxItems:   maxItems,
		strategies: append([]Strategy(nil), strategies...),
		logger:     logger,
	}
}

// Build produces a digest. It never fails: an empty input yields the
// placeholder and an exhausted ladder yields the bare counts notice.
func (b *Builder) Build(ctx context.Context, posts []post.Post, accounts int) Digest {
	if len(posts) == 0 {
		return Digest{Text: Placeholder, Kind: KindPlaceholder, Strategy: string(KindPlaceholder)}
	}
	batch := Batch{Posts: Select(posts, b.maxItems), Accounts: accounts}
	d := Digest{Batch: batch.Posts}

	for _, s := range b.strategies {
		text, err := summarize(ctx, s, batch)
		if err != nil {
			b.logger.Warn("digest strategy failed",
				zap.String("strategy", s.Name()),
				zap.Error(err),
			)
			d.Errors = append(d.Errors, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		d.Text = text
		d.Strategy = s.Name()
		d.Kind = KindAI
		if k, ok := s.(kinded); ok {
			d.Kind = k.Kind()
		}
		return d
	}

	d.Text = Bare(len(posts), accounts)
	d.Kind = KindBare
	d.Strategy = string(KindBare)
	return d
}

// summarize runs one rung, treating blank output and panics as failures.
func summarize(ctx context.Context, s Strategy, batch Batch) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("strategy panic: %v", r)
		}
	}()
	text, err = s.Summarize(ctx, batch)
	if err != nil {
		return "", err
	}
	if isBlank(text) {
		return "", fmt.Errorf("strategy returned empty text")
	}
	return text, nil
}

// Bare is the terminal notice when no strategy could run.
func Bare(posts, accounts int) string {
	return fmt.Sprintf("%d posts collected from %d accounts, summarization unavailable", posts, accounts)
}

// Select keeps the n posts with the highest engagement total, breaking ties
// by recency then id, and returns them ordered by timestamp descending.
func Select(posts []post.Post, n int) []post.Post {
	ranked := append([]post.Post(nil), posts...)
	if n > 0 && len(ranked) > n {
		slices.SortStableFunc(ranked, func(a, b post.Post) int {
			if c := cmp.Compare(b.Engagement.Total(), a.Engagement.Total()); c != 0 {
				return c
			}
			if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
				return c
			}
			return cmp.Compare(a.ID, b.ID)
		})
		ranked = ranked[:n]
	}
	slices.SortStableFunc(ranked, func(a, b post.Post) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return ranked
}

func isBlank(s string) bool {
	for _, r := range s {
		switch r {
		case ' ', '\t', '\n', '\r':
		default:
			return false
		}
	}
	return true
}
