package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisherRecordsPerTopic(t *testing.T) {
	t.Parallel()

	pub := New()
	ctx := context.Background()
	for _, topic := range []string{"pages", "pages", "audit"} {
		_, err := pub.Publish(ctx, topic, map[string]any{"page_id": "Example"})
		require.NoError(t, err)
	}

	msgs := pub.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"pages-1", "pages-2", "audit-1"}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})
	assert.Len(t, pub.Topic("pages"), 2)
	assert.Empty(t, pub.Topic("missing"))

	msgs[0].Topic = "modified"
	assert.Equal(t, "pages", pub.Messages()[0].Topic)
}

func TestPublisherFailWith(t *testing.T) {
	t.Parallel()

	pub := New()
	boom := errors.New("unavailable")
	pub.FailWith(boom)
	_, err := pub.Publish(context.Background(), "pages", "x")
	require.ErrorIs(t, err, boom)
	assert.Empty(t, pub.Messages())

	pub.FailWith(nil)
	id, err := pub.Publish(context.Background(), "pages", "x")
	require.NoError(t, err)
	assert.Equal(t, "pages-1", id)
}

func TestPublisherCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Publish(ctx, "pages", "x")
	require.ErrorIs(t, err, context.Canceled)
}
