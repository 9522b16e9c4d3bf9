package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bilgisen/contentgen/internal/models"
)

func TestRelayForwardsPublishedEvents(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	hub := NewHub(zerolog.Nop())
	c := registerTestClient(t, hub, "u1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewRelay(client, "test:", hub, zerolog.Nop()).Run(ctx) }()

	require.Eventually(t, func() bool {
		subs, err := client.PubSubNumSub(context.Background(), ChannelName("test:")).Result()
		return err == nil && subs[ChannelName("test:")] == 1
	}, 2*time.Second, 10*time.Millisecond)

	event := models.ContentEvent{ContentID: "c1", Status: models.StatusFailed}
	require.NoError(t, NewPublisher(client, "test:").Notify(context.Background(), "u1", event))

	select {
	case frame := <-c.send:
		var got Frame
		require.NoError(t, json.Unmarshal(frame, &got))
		assert.Equal(t, models.EventContentGenerated, got.Event)
		assert.Equal(t, map[string]any{"contentId": "c1", "status": "failed"}, got.Data)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not deliver the event")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}
