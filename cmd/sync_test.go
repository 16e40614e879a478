package cmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regwatch/regvelocity/internal/config"
	"github.com/regwatch/regvelocity/internal/publisher/memory"
)

func TestBuildPublisherDisabledWithoutTopic(t *testing.T) {
	t.Parallel()

	pub, cleanup, err := buildPublisher(context.Background(), config.Config{})
	require.NoError(t, err)
	assert.Nil(t, pub)
	assert.Nil(t, cleanup)
}

func TestBuildPublisherFallsBackToMemory(t *testing.T) {
	t.Parallel()

	var cfg config.Config
	cfg.PubSub.TopicName = "snapshots"

	pub, cleanup, err := buildPublisher(context.Background(), cfg)
	require.NoError(t, err)
	assert.Nil(t, cleanup)
	assert.IsType(t, &memory.Publisher{}, pub)
}
