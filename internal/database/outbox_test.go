package database

import (
	"context"
	"testing"
	"time"

	"staybook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboxLifecycle(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	s := db.Store()

	msg := &models.OutboxMessage{
		TenantID:  models.DefaultTenant,
		Topic:     models.TopicBookings,
		EventType: models.EventBookingConfirmed,
		EntityID:  42,
		Payload:   `{"booking_id":42}`,
	}
	require.NoError(t, s.AppendOutbox(ctx, msg))
	assert.NotEmpty(t, msg.CorrelationID)
	assert.Equal(t, models.OutboxStatusPending, msg.Status)

	pending, err := s.GetPendingOutbox(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, msg.ID, pending[0].ID)
	assert.JSONEq(t, `{"booking_id":42}`, pending[0].Payload)

	t.Run("RetryThenFail", func(t *testing.T) {
		next := time.Now().Add(time.Minute)
		status, err := s.MarkOutboxAttemptFailed(ctx, msg.ID, "broker down", 2, next)
		require.NoError(t, err)
		assert.Equal(t, models.OutboxStatusPending, status)

		// not due until next
		pending, err := s.GetPendingOutbox(ctx, time.Now(), 10)
		require.NoError(t, err)
		assert.Empty(t, pending)

		status, err = s.MarkOutboxAttemptFailed(ctx, msg.ID, "broker down", 2, next)
		require.NoError(t, err)
		assert.Equal(t, models.OutboxStatusFailed, status)

		failed, err := s.ListOutbox(ctx, OutboxFilter{Status: models.OutboxStatusFailed})
		require.NoError(t, err)
		require.Len(t, failed, 1)
		assert.Equal(t, 2, failed[0].Attempts)
		require.NotNil(t, failed[0].LastError)
		assert.Equal(t, "broker down", *failed[0].LastError)
	})

	t.Run("Published", func(t *testing.T) {
		other := &models.OutboxMessage{TenantID: models.DefaultTenant, Topic: models.TopicPayments, EventType: models.EventPaymentCompleted, EntityID: 1}
		require.NoError(t, s.AppendOutbox(ctx, other))
		require.NoError(t, s.MarkOutboxPublished(ctx, other.ID))

		list, err := s.ListOutbox(ctx, OutboxFilter{EventType: models.EventPaymentCompleted})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, models.OutboxStatusPublished, list[0].Status)
		assert.NotNil(t, list[0].PublishedAt)
		assert.Equal(t, "{}", list[0].Payload)
	})
}
