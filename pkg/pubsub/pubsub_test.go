package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisPubSubRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ps := NewRedisPubSub(client)
	t.Cleanup(func() { _ = ps.Close(); _ = client.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := ps.Subscribe(ctx, ChannelBackplane)
	require.NoError(t, err)

	ev, err := NewEvent(EventPublish, "group:g1", map[string]string{"hello": "world"})
	require.NoError(t, err)
	ev.Origin = "i-1"
	require.NoError(t, ps.Publish(ctx, ChannelBackplane, ev))

	select {
	case got := <-ch:
		require.NotNil(t, got)
		assert.Equal(t, EventPublish, got.Type)
		assert.Equal(t, "group:g1", got.RoomID)
		assert.Equal(t, "i-1", got.Origin)
		var body map[string]string
		require.NoError(t, got.UnmarshalPayload(&body))
		assert.Equal(t, "world", body["hello"])
	case <-time.After(2 * time.Second):
		t.Fatal("event not received")
	}
}

func TestRedisPubSubCloseKeepsSharedClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ps := NewRedisPubSub(client)
	require.NoError(t, ps.Close())
	assert.NoError(t, client.Ping(context.Background()).Err())
}

func TestChannelToTopic(t *testing.T) {
	assert.Equal(t, "chat-backplane", channelToTopic(ChannelBackplane))
}

func TestConsumerGroupIDIsPerInstance(t *testing.T) {
	a := consumerGroupID(KafkaConfig{GroupID: "chat", InstanceID: "a"}, ChannelBackplane)
	b := consumerGroupID(KafkaConfig{GroupID: "chat", InstanceID: "b"}, ChannelBackplane)
	assert.NotEqual(t, a, b)
	assert.Equal(t, "chat-chat-backplane-a", a)
}
