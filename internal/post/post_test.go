package post

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEngagementTotalsAndRichness(t *testing.T) {
	t.Parallel()

	e := Engagement{Likes: 10, Reposts: 2, Replies: 3, Quotes: 1, Views: 5000}
	require.Equal(t, int64(16), e.Total())
	require.Equal(t, 5, e.Richness())
	require.False(t, e.Notable())

	require.Equal(t, 0, Engagement{}.Richness())
	require.True(t, Engagement{Likes: 1001}.Notable())
	require.True(t, Engagement{Reposts: 101}.Notable())
}

func TestPostExcerpt(t *testing.T) {
	t.Parallel()

	p := Post{Text: "  hello\n\n  world   again "}
	require.Equal(t, "hello world again", p.Excerpt(0))
	require.Equal(t, "hello…", p.Excerpt(5))
	require.Equal(t, "hello world again", p.Excerpt(100))
}

func TestParseAccounts(t *testing.T) {
	t.Parallel()

	accounts, err := ParseAccounts([]string{"@OpenAI", " xai ", "openai", "", "AnthropicAI,GoogleDeepMind"})
	require.NoError(t, err)
	require.Equal(t, []string{"OpenAI", "xai", "AnthropicAI", "GoogleDeepMind"}, Handles(accounts))
	require.Equal(t, "@OpenAI", accounts[0].String())

	_, err = ParseAccounts([]string{" ", "@"})
	require.True(t, errors.Is(err, ErrNoAccounts))
}
