package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishRecordsMessages(t *testing.T) {
	t.Parallel()

	p := New()
	id, err := p.Publish(context.Background(), "snapshots", map[string]int{"title": 7})
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id)

	id, err = p.Publish(context.Background(), "snapshots", map[string]int{"title": 15})
	require.NoError(t, err)
	assert.Equal(t, "memory-2", id)

	msgs := p.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "snapshots", msgs[0].Topic)
}

func TestMessagesReturnsCopy(t *testing.T) {
	t.Parallel()

	p := New()
	_, err := p.Publish(context.Background(), "t", "payload")
	require.NoError(t, err)

	msgs := p.Messages()
	msgs[0].Topic = "mutated"
	assert.Equal(t, "t", p.Messages()[0].Topic)
}
