package database

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"staybook/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestStore_ErrorPaths(t *testing.T) {
	logger := zerolog.New(io.Discard)
	db, err := NewDB(":memory:", &logger)
	assert.NoError(t, err)
	db.Close() // Close the DB to trigger errors

	ctx := context.Background()
	st := db.Store()
	now := time.Now()

	t.Run("CreateBooking_Error", func(t *testing.T) {
		assert.Error(t, st.CreateBooking(ctx, &models.Booking{}))
	})

	t.Run("ListBookings_Error", func(t *testing.T) {
		_, err := st.ListBookings(ctx, models.BookingFilter{})
		assert.Error(t, err)
	})

	t.Run("FindOverlappingBlock_Error", func(t *testing.T) {
		_, err := st.FindOverlappingBlock(ctx, 1, now, now.Add(24*time.Hour), 0)
		assert.Error(t, err)
	})

	t.Run("AppendOutbox_Error", func(t *testing.T) {
		assert.Error(t, st.AppendOutbox(ctx, &models.OutboxMessage{}))
	})

	t.Run("GetDueSchedules_Error", func(t *testing.T) {
		_, err := st.GetDueSchedules(ctx, DueScheduleQuery{Now: now, Limit: 10})
		assert.Error(t, err)
	})

	t.Run("HasSentCommunication_Error", func(t *testing.T) {
		_, err := st.HasSentCommunication(ctx, "default", CommunicationKey("booking.confirmed", 1, "log"))
		assert.Error(t, err)
	})

	t.Run("GetPaymentByOrderID_Error", func(t *testing.T) {
		_, err := st.GetPaymentByOrderID(ctx, "default", "order_1")
		assert.Error(t, err)
	})

	t.Run("GetIdempotencyRecord_Error", func(t *testing.T) {
		_, err := st.GetIdempotencyRecord(ctx, "default", "key")
		assert.Error(t, err)
	})

	t.Run("WithTx_Error", func(t *testing.T) {
		called := false
		err := db.WithTx(ctx, func(*Store) error {
			called = true
			return nil
		})
		assert.Error(t, err)
		assert.False(t, called)
	})
}

func TestNewDB_Error(t *testing.T) {
	tmpDir, _ := os.MkdirTemp("", "db_err")
	defer os.RemoveAll(tmpDir)

	logger := zerolog.New(io.Discard)
	_, err := NewDB(tmpDir, &logger)
	assert.Error(t, err)
}
