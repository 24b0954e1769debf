// Package merge combines per-account post batches into one deduplicated,
// recency-ordered sequence.
package merge

import (
	"cmp"
	"slices"

	"github.com/JakeFAU/ai-digest/internal/hash/sha256"
	"github.com/JakeFAU/ai-digest/internal/post"
)

// Merger deduplicates posts by id, preferring higher-priority sources.
type Merger struct {
	rank map[string]int
}

// New builds a Merger. priority lists adapter ids from most to least trusted;
// unknown sources rank after all of them.
func New(priority []string) *Merger {
	rank := make(map[string]int, len(priority))
	for i, id := range priority {
		if _, ok := rank[id]; !ok {
			rank[id] = i
		}
	}
	return &Merger{rank: rank}
}

// Rank returns the priority of source; lower is better.
func (m *Merger) Rank(source string) int {
	if r, ok := m.rank[source]; ok {
		return r
	}
	return len(m.rank)
}

// Merge returns one post per id ordered by timestamp descending. Posts
// without a parsed timestamp sort last. Posts without an id receive a content
// fingerprint.
func (m *Merger) Merge(batches ...[]post.Post) []post.Post {
	byID := make(map[string]post.Post)
	for _, batch := range batches {
		for _, p := range batch {
			if p.ID == "" {
				p.ID = sha256.Fingerprint(p.Account, p.RawTimestamp+p.Timestamp.String(), p.Text)
			}
			current, seen := byID[p.ID]
			if !seen || m.better(p, current) {
				byID[p.ID] = p
			}
		}
	}

	out := make([]post.Post, 0, len(byID))
	for _, p := range byID {
		out = append(out, p)
	}
	slices.SortFunc(out, compareRecency)
	return out
}

// better reports whether candidate should replace current.
func (m *Merger) better(candidate, current post.Post) bool {
	if rc, rk := m.Rank(candidate.Source), m.Rank(current.Source); rc != rk {
		return rc < rk
	}
	if rc, rk := candidate.Engagement.Richness(), current.Engagement.Richness(); rc != rk {
		return rc > rk
	}
	return candidate.Engagement.Total() > current.Engagement.Total()
}

func compareRecency(a, b post.Post) int {
	switch {
	case a.HasTimestamp() && !b.HasTimestamp():
		return -1
	case !a.HasTimestamp() && b.HasTimestamp():
		return 1
	}
	if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
		return c
	}
	return cmp.Compare(b.ID, a.ID)
}
