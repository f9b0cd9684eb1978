package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessageAttributes(t *testing.T) {
	t.Parallel()

	attrs := messageAttributes(map[string]any{
		"runId":    "run-1",
		"kind":     "discovery",
		"status":   "succeeded",
		"counters": map[string]int{"processed": 2},
	})
	require.Equal(t, map[string]string{"runId": "run-1", "kind": "discovery", "status": "succeeded"}, attrs)
	require.Nil(t, messageAttributes("plain"))
	require.Nil(t, messageAttributes(map[string]any{"other": 1}))
}

func TestPublishWithoutPublisher(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), "runs", map[string]any{"runId": "run-1"})
	require.EqualError(t, err, "pubsub publisher is not configured")
}
