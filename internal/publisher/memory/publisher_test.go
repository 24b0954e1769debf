package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	attrs := map[string]string{"run_id": "r-1"}
	id1, err := pub.Publish(context.Background(), map[string]int{"kept": 3}, attrs)
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "payload", nil)
	require.NoError(t, err)
	assert.Equal(t, "memory-2", id2)

	attrs["run_id"] = "mutated"
	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.JSONEq(t, `{"kept":3}`, string(msgs[0].Data))
	assert.Equal(t, "r-1", msgs[0].Attributes["run_id"])
	assert.Equal(t, `"payload"`, string(msgs[1].Data))
}

func TestPublisherFailWith(t *testing.T) {
	t.Parallel()

	pub := New()
	boom := errors.New("boom")
	pub.FailWith(boom)
	_, err := pub.Publish(context.Background(), "x", nil)
	require.ErrorIs(t, err, boom)
	assert.Empty(t, pub.Messages())

	_, err = pub.Publish(context.Background(), make(chan int), nil)
	require.Error(t, err)
}
