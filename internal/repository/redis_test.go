package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"staybook/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return s, client
}

func TestRedisDeadLetterQueue(t *testing.T) {
	s, client := setupMiniredis(t)
	q := NewRedisDeadLetterQueue(client, "staybook:deadletter", 2)
	ctx := context.Background()

	t.Run("PushAndList", func(t *testing.T) {
		require.NoError(t, q.Push(ctx, models.DeadLetter{Kind: "outbox", ID: 1, EventType: "booking.created", LastError: "boom"}))
		require.NoError(t, q.Push(ctx, models.DeadLetter{Kind: "outbox", ID: 2, EventType: "booking.updated"}))

		items, err := q.List(ctx, "outbox", 10)
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, int64(2), items[0].ID, "newest first")
		assert.Equal(t, "boom", items[1].LastError)
		assert.False(t, items[1].FailedAt.IsZero())
	})

	t.Run("CappedPerKind", func(t *testing.T) {
		require.NoError(t, q.Push(ctx, models.DeadLetter{Kind: "outbox", ID: 3}))

		items, err := q.List(ctx, "outbox", 10)
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, int64(3), items[0].ID)
		assert.Equal(t, int64(2), items[1].ID)
	})

	t.Run("KindsAreSeparate", func(t *testing.T) {
		require.NoError(t, q.Push(ctx, models.DeadLetter{Kind: "schedule", ID: 9}))
		assert.True(t, s.Exists("staybook:deadletter:schedule"))

		items, err := q.List(ctx, "schedule", 10)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, int64(9), items[0].ID)
	})

	t.Run("NilClient", func(t *testing.T) {
		q := NewRedisDeadLetterQueue(nil, "x", 0)
		err := q.Push(ctx, models.DeadLetter{Kind: "outbox"})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "redis client is nil")
	})
}

func TestRedisPublisher(t *testing.T) {
	_, client := setupMiniredis(t)
	ctx := context.Background()
	p := NewRedisPublisher(client, "staybook:events")
	assert.Equal(t, "redis", p.Name())

	sub := client.Subscribe(ctx, p.Channel(models.TopicBookings))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	msg := models.OutboxMessage{
		ID:            7,
		Topic:         models.TopicBookings,
		EventType:     models.EventBookingCreated,
		EntityID:      42,
		Payload:       `{"booking_id":42}`,
		CorrelationID: "corr-1",
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, p.Publish(ctx, msg))

	select {
	case got := <-sub.Channel():
		assert.Equal(t, "staybook:events:bookings", got.Channel)
		var env Envelope
		require.NoError(t, json.Unmarshal([]byte(got.Payload), &env))
		assert.Equal(t, int64(7), env.ID)
		assert.Equal(t, models.EventBookingCreated, env.EventType)
		assert.Equal(t, "corr-1", env.CorrelationID)
		assert.JSONEq(t, `{"booking_id":42}`, string(env.Payload))
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}

	t.Run("InvalidPayload", func(t *testing.T) {
		err := p.Publish(ctx, models.OutboxMessage{ID: 8, Topic: models.TopicBookings, Payload: "{"})
		assert.Error(t, err)
	})
}

func TestPingAndClose(t *testing.T) {
	_, client := setupMiniredis(t)
	ctx := context.Background()

	assert.NoError(t, Ping(ctx, client))
	assert.Error(t, Ping(ctx, nil))
	assert.NoError(t, Close(nil))
}
