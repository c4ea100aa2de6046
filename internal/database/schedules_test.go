package database

import (
	"context"
	"testing"
	"time"

	"staybook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDueSchedules(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	s := db.Store()
	now := time.Now().UTC()

	mk := func(eventType string, due time.Time) *models.AutomationSchedule {
		sc := &models.AutomationSchedule{TenantID: models.DefaultTenant, BookingID: 1, EventType: eventType, DueAt: due}
		require.NoError(t, s.CreateSchedule(ctx, sc))
		return sc
	}

	later := mk(models.EventInvoiceDue, now.Add(-time.Minute))
	earlier := mk(models.EventInvoiceDue, now.Add(-time.Hour))
	notify := mk(models.EventBookingConfirmed, now.Add(-time.Hour))
	reminder := mk(models.EventStayWelcomeDue, now.Add(-30*time.Minute))
	mk(models.EventStayPostStayDue, now.Add(time.Hour))

	t.Run("MaterializerSide", func(t *testing.T) {
		due, err := s.GetDueSchedules(ctx, DueScheduleQuery{Now: now, Limit: 10, ExcludeTypes: models.NotificationEventTypes})
		require.NoError(t, err)
		require.Len(t, due, 2)
		assert.Equal(t, earlier.ID, due[0].ID, "ordered by due time")
		assert.Equal(t, later.ID, due[1].ID)
	})

	t.Run("RelaySide", func(t *testing.T) {
		due, err := s.GetDueSchedules(ctx, DueScheduleQuery{Now: now, Limit: 10, IncludeTypes: models.NotificationEventTypes})
		require.NoError(t, err)
		require.Len(t, due, 2)
		assert.Equal(t, notify.ID, due[0].ID)
		assert.Equal(t, reminder.ID, due[1].ID)
	})

	t.Run("BackoffHidesRow", func(t *testing.T) {
		require.NoError(t, s.RetrySchedule(ctx, earlier.ID, 1, "boom", now.Add(time.Minute)))
		due, err := s.GetDueSchedules(ctx, DueScheduleQuery{Now: now, Limit: 10, ExcludeTypes: models.NotificationEventTypes})
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, later.ID, due[0].ID)
	})
}

func TestRecordScheduleFailureCeiling(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	s := db.Store()

	sc := &models.AutomationSchedule{TenantID: models.DefaultTenant, BookingID: 1, EventType: models.EventInvoiceDue, DueAt: time.Now()}
	require.NoError(t, s.CreateSchedule(ctx, sc))

	const maxAttempts = 3
	for i := 1; i < maxAttempts; i++ {
		status, attempts, err := s.RecordScheduleFailure(ctx, sc.ID, "boom", maxAttempts, time.Now())
		require.NoError(t, err)
		assert.Equal(t, models.ScheduleStatusPending, status)
		assert.Equal(t, i, attempts)
	}

	status, attempts, err := s.RecordScheduleFailure(ctx, sc.ID, "boom", maxAttempts, time.Now())
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleStatusFailed, status)
	assert.Equal(t, maxAttempts, attempts)

	// a failed row is never touched again
	_, _, err = s.RecordScheduleFailure(ctx, sc.ID, "boom", maxAttempts, time.Now())
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := s.GetSchedule(ctx, sc.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.CompletedAt)
}

func TestCancelPendingSchedules(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	s := db.Store()

	for _, et := range models.MilestoneEventTypes {
		require.NoError(t, s.CreateSchedule(ctx, &models.AutomationSchedule{TenantID: models.DefaultTenant, BookingID: 5, EventType: et, DueAt: time.Now()}))
	}
	done := &models.AutomationSchedule{TenantID: models.DefaultTenant, BookingID: 5, EventType: models.EventBookingConfirmed, DueAt: time.Now()}
	require.NoError(t, s.CreateSchedule(ctx, done))
	require.NoError(t, s.SetScheduleStatus(ctx, done.ID, models.ScheduleStatusCompleted, nil))

	n, err := s.CancelPendingSchedules(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(len(models.MilestoneEventTypes)), n)

	list, err := s.ListSchedules(ctx, ScheduleFilter{BookingID: 5})
	require.NoError(t, err)
	for _, sc := range list {
		if sc.ID == done.ID {
			assert.Equal(t, models.ScheduleStatusCompleted, sc.Status)
			continue
		}
		assert.Equal(t, models.ScheduleStatusCancelled, sc.Status)
		assert.NotNil(t, sc.CompletedAt)
	}
}

func TestCommunicationLog(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	s := db.Store()

	key := CommunicationKey(models.EventBookingConfirmed, 12, "log")
	assert.Equal(t, "booking.confirmed:12:log", key)

	sent, err := s.HasSentCommunication(ctx, models.DefaultTenant, key)
	require.NoError(t, err)
	assert.False(t, sent)

	entry := &models.CommunicationLog{TenantID: models.DefaultTenant, EventType: models.EventBookingConfirmed, EntityID: 12, Channel: "log"}
	require.NoError(t, s.RecordCommunication(ctx, entry))
	require.NoError(t, s.RecordCommunication(ctx, entry))

	sent, err = s.HasSentCommunication(ctx, models.DefaultTenant, key)
	require.NoError(t, err)
	assert.True(t, sent)

	sent, err = s.HasSentCommunication(ctx, "other-tenant", key)
	require.NoError(t, err)
	assert.False(t, sent)

	logs, err := s.ListCommunications(ctx, 12)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}
